// Package fee 按币种记录用户选择的手续费档位，交易构建时读取。
package fee

import (
	"encoding/json"
	"sort"
	"strings"

	"gopherwallet.com/internal/wallet/domain"
)

const Default = domain.FeeNormal

// Levels 币种 -> 档位。只在状态引擎的单写协程里修改。
type Levels struct {
	m map[string]domain.FeeLevel
}

// NewLevels btc / eth 默认 normal
func NewLevels() *Levels {
	return &Levels{m: map[string]domain.FeeLevel{
		"btc": domain.FeeNormal,
		"eth": domain.FeeNormal,
	}}
}

// ParseLevel 只接受已知档位，大小写不敏感
func ParseLevel(s string) (domain.FeeLevel, error) {
	for _, l := range domain.FeeLevels() {
		if strings.EqualFold(string(l), s) {
			return l, nil
		}
	}
	return "", &domain.InvalidFeeLevelError{Level: s}
}

// Get 未设置时返回 normal
func (l *Levels) Get(currency string) domain.FeeLevel {
	if lv, ok := l.m[strings.ToLower(currency)]; ok {
		return lv
	}
	return Default
}

// Set 直接覆盖
func (l *Levels) Set(currency string, level domain.FeeLevel) error {
	if !level.Valid() {
		return &domain.InvalidFeeLevelError{Level: string(level)}
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return domain.ErrInvalidArgument
	}
	l.m[currency] = level
	return nil
}

func (l *Levels) Currencies() []string {
	out := make([]string, 0, len(l.m))
	for c := range l.m {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (l *Levels) Clone() *Levels {
	m := make(map[string]domain.FeeLevel, len(l.m))
	for k, v := range l.m {
		m[k] = v
	}
	return &Levels{m: m}
}

func (l *Levels) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.m)
}

// UnmarshalJSON 持久化里的非法档位直接丢掉，回落到默认值
func (l *Levels) UnmarshalJSON(b []byte) error {
	raw := map[string]string{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	l.m = make(map[string]domain.FeeLevel, len(raw))
	for c, s := range raw {
		if lv, err := ParseLevel(s); err == nil {
			l.m[strings.ToLower(c)] = lv
		}
	}
	return nil
}
