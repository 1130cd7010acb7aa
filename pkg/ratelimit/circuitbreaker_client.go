package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"gopherwallet.com/pkg/metrics"
)

type Rule struct {
	// Half-Open 状态允许通过的探测请求数
	MaxRequests uint32 `mapstructure:"max_requests"`
	// Closed 状态计数窗口
	Interval time.Duration `mapstructure:"interval"`
	// >0 启用 rolling window
	BucketPeriod time.Duration `mapstructure:"bucket_period"`
	// Open 状态持续时间，到期进入 Half-Open
	Timeout time.Duration `mapstructure:"timeout"`

	// 触发熔断条件（两种之一即可）
	TripConsecutiveFailures uint32  `mapstructure:"trip_consecutive_failures"`
	TripFailureRate         float64 `mapstructure:"trip_failure_rate"`
	TripMinRequests         uint32  `mapstructure:"trip_min_requests"`
}

// Classifier 决定哪些错误计入熔断失败，业务可预期的错误不应该把依赖熔断掉
type Classifier func(err error) bool

type Manager struct {
	service string
	mu      sync.RWMutex
	m       map[string]*gobreaker.CircuitBreaker[struct{}]

	defaultRule Rule
	rules       map[string]Rule
	isSuccess   Classifier
}

func NewManager(service string, defaultRule Rule, perMethod map[string]Rule, isSuccess Classifier) *Manager {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 5
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 3 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 10 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 10
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 20
	}
	if isSuccess == nil {
		isSuccess = func(err error) bool { return err == nil }
	}
	return &Manager{
		service:     service,
		m:           make(map[string]*gobreaker.CircuitBreaker[struct{}], 16),
		defaultRule: defaultRule,
		rules:       perMethod,
		isSuccess:   isSuccess,
	}
}

// Do 在 method 对应的熔断器里执行 fn；熔断打开时返回 gobreaker.ErrOpenState / ErrTooManyRequests
func (m *Manager) Do(method string, fn func() error) error {
	_, err := m.Get(method).Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CBRejectTotal.WithLabelValues(m.service, method, err.Error()).Inc()
	}
	return err
}

func (m *Manager) Get(method string) *gobreaker.CircuitBreaker[struct{}] {
	// 快路径：读锁
	m.mu.RLock()
	cb := m.m[method]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	// 慢路径：创建
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb = m.m[method]; cb != nil {
		return cb
	}

	rule, ok := m.rules[method]
	if !ok {
		rule = m.defaultRule
	}
	st := gobreaker.Settings{
		Name:         method,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				return float64(c.TotalFailures)/float64(c.Requests) >= rule.TripFailureRate
			}
			return false
		},
		IsSuccessful: m.isSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CBState.WithLabelValues(m.service, name, from.String()).Set(0)
			metrics.CBState.WithLabelValues(m.service, name, to.String()).Set(1)
		},
	}
	cb = gobreaker.NewCircuitBreaker[struct{}](st)
	m.m[method] = cb
	return cb
}
