package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"gopherwallet.com/internal/secretstore"
	"gopherwallet.com/internal/wallet/domain"
	"gopherwallet.com/internal/wallet/state"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/metrics"
)

type Config struct {
	Debounce      time.Duration `mapstructure:"debounce"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 30 * time.Second
	}
	return c
}

// Source 状态引擎提供的只读视图
type Source interface {
	Snapshot() *state.State
	Mutations() uint64
	Notify() <-chan struct{}
}

// Loaded 启动时读到的内容。Recovered=true 表示旧数据解不开，已经按空状态启动。
type Loaded struct {
	State     *state.State
	Extra     map[Slice]json.RawMessage
	Recovered bool
}

// Load 没有数据或数据解不开都返回空状态；只有存储本身读失败才返回错误
func Load(ctx context.Context, store BlobStore, key secretstore.DeviceKey, now time.Time) (Loaded, error) {
	empty := Loaded{State: state.New(now), Extra: map[Slice]json.RawMessage{}}
	blob, err := store.Read(ctx)
	if errors.Is(err, ErrNoBlob) {
		logger.Info(ctx, "no persisted wallet state, starting empty")
		return empty, nil
	}
	if err != nil {
		return Loaded{}, fmt.Errorf("persist: read: %w", err)
	}

	c, err := newCodec(key)
	if err != nil {
		return Loaded{}, err
	}
	defer c.Close()
	snap, err := c.decode(blob)
	if err != nil {
		reason := "decode"
		var de *domain.DecryptError
		if errors.As(err, &de) {
			reason = "unseal"
		}
		metrics.RecoverableDataLoss.WithLabelValues(reason).Inc()
		logger.Warn(ctx, "persisted wallet state unreadable, starting empty",
			logger.Event("recoverable_data_loss"), zap.String("reason", reason), zap.Error(err))
		empty.Recovered = true
		return empty, nil
	}
	return Loaded{State: state.FromDocument(snap.Wallet), Extra: snap.Extra}, nil
}

// Gateway 状态变更后防抖写盘。
// 写失败只记日志和指标，等下一次变更或重试定时器再写，不影响业务。
type Gateway struct {
	src   Source
	store BlobStore
	codec *codec
	cfg   Config
	now   func() time.Time

	mu         sync.Mutex // 保护 extra / extraDirty
	extra      map[Slice]json.RawMessage
	extraDirty bool
	kick       chan struct{}

	saveMu   sync.Mutex // Run 和 Flush 可能同时写
	saved    uint64     // 已落盘的变更计数
	attempts uint64
	done     chan struct{}
}

func NewGateway(src Source, store BlobStore, key secretstore.DeviceKey, cfg Config, extra map[Slice]json.RawMessage) (*Gateway, error) {
	c, err := newCodec(key)
	if err != nil {
		return nil, err
	}
	if extra == nil {
		extra = map[Slice]json.RawMessage{}
	}
	return &Gateway{
		src:   src,
		store: store,
		codec: c,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		extra: extra,
		kick:  make(chan struct{}, 1),
		saved: src.Mutations(),
		done:  make(chan struct{}),
	}, nil
}

// Slice 其他模块的数据
func (g *Gateway) Slice(name Slice) (json.RawMessage, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	raw, ok := g.extra[name]
	return append(json.RawMessage(nil), raw...), ok
}

// SetSlice WALLET 由状态引擎管理，不能从这里改
func (g *Gateway) SetSlice(name Slice, raw json.RawMessage) error {
	if !name.Valid() || name == SliceWallet {
		return fmt.Errorf("%w: slice %q", domain.ErrInvalidArgument, name)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("%w: slice %s is not valid json", domain.ErrInvalidArgument, name)
	}
	g.mu.Lock()
	g.extra[name] = append(json.RawMessage(nil), raw...)
	g.extraDirty = true
	g.mu.Unlock()
	select {
	case g.kick <- struct{}{}:
	default:
	}
	return nil
}

func (g *Gateway) dirty() bool {
	g.mu.Lock()
	extra := g.extraDirty
	g.mu.Unlock()
	g.saveMu.Lock()
	defer g.saveMu.Unlock()
	return extra || g.src.Mutations() != g.saved
}

// Run 第一次变更起计时，Debounce 内的变更合并成一次写
func (g *Gateway) Run(ctx context.Context) {
	defer close(g.done)
	retry := time.NewTicker(g.cfg.RetryInterval)
	defer retry.Stop()

	var timer *time.Timer
	var fire <-chan time.Time
	arm := func() {
		if fire != nil {
			return
		}
		if timer == nil {
			timer = time.NewTimer(g.cfg.Debounce)
		} else {
			timer.Reset(g.cfg.Debounce)
		}
		fire = timer.C
	}
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-g.src.Notify():
			arm()
		case <-g.kick:
			arm()
		case <-fire:
			fire = nil
			_ = g.save(ctx)
		case <-retry.C:
			if fire == nil && g.dirty() {
				_ = g.save(ctx)
			}
		}
	}
}

// Done Run 退出后关闭
func (g *Gateway) Done() <-chan struct{} { return g.done }

// Flush 退出前调用，有未落盘的变更就同步写一次
func (g *Gateway) Flush(ctx context.Context) error {
	if !g.dirty() {
		return nil
	}
	return g.save(ctx)
}

func (g *Gateway) save(ctx context.Context) error {
	g.saveMu.Lock()
	defer g.saveMu.Unlock()

	// 先读计数再取快照：快照至少和计数一样新
	muts := g.src.Mutations()
	snap := g.src.Snapshot()
	g.mu.Lock()
	extra := make(map[Slice]json.RawMessage, len(g.extra))
	for k, v := range g.extra {
		extra[k] = v
	}
	g.extraDirty = false
	g.mu.Unlock()

	g.attempts++
	err := g.write(ctx, snap, extra)
	if err != nil {
		g.mu.Lock()
		g.extraDirty = true
		g.mu.Unlock()
		werr := &domain.PersistenceWriteError{Attempt: g.attempts, Err: err}
		metrics.SnapshotsWritten.WithLabelValues("failed").Inc()
		logger.Error(ctx, "persist wallet state failed", zap.Uint64("mutations", muts), zap.Error(werr))
		return werr
	}
	g.saved = muts
	g.attempts = 0
	metrics.SnapshotsWritten.WithLabelValues("ok").Inc()
	logger.Debug(ctx, "wallet state persisted", zap.Uint64("mutations", muts))
	return nil
}

func (g *Gateway) write(ctx context.Context, snap *state.State, extra map[Slice]json.RawMessage) error {
	blob, err := g.codec.encode(snap.Document(), extra, g.now().UnixMilli())
	if err != nil {
		return err
	}
	// 退出时 ctx 已经取消，最后一次写不能跟着失败
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return g.store.Write(wctx, blob)
}

// Close 释放编解码器，不关 store
func (g *Gateway) Close() { g.codec.Close() }
