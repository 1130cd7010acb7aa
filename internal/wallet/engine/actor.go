// Package engine 钱包状态的唯一写者。
// 所有变更排队进邮箱，由 Run 协程按批串行执行；读取走每批结束后发布的快照。
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopherwallet.com/internal/wallet/state"
	"gopherwallet.com/pkg/logger"
	"gopherwallet.com/pkg/metrics"
)

type result struct {
	val any
	err error
}

type envelope struct {
	ctx   context.Context
	cmd   Command
	reply chan result // buffered=1，调用方放弃等待也不会卡住 actor
}

type Engine struct {
	st  *state.State
	in  chan envelope
	cfg Config
	now func() time.Time

	snap      atomic.Pointer[state.State]
	mutations atomic.Uint64
	notify    chan struct{} // buffered=1，通知持久化“有新变更了”
	done      chan struct{}
	running   atomic.Bool

	mailboxFull atomic.Uint64
}

type Option func(*Engine)

// WithClock 测试里固定时间
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(st *state.State, cfg Config, opts ...Option) *Engine {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 1024
	}
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = 64
	}
	if st == nil {
		st = state.New(time.Now())
	}
	e := &Engine{
		st:     st,
		in:     make(chan envelope, cfg.MailboxSize),
		cfg:    cfg,
		now:    time.Now,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	e.snap.Store(st.Clone())
	return e
}

// Snapshot 最近一批执行完之后的只读副本，不要在上面调用变更方法
func (e *Engine) Snapshot() *state.State { return e.snap.Load() }

// Mutations 成功执行的变更计数，只增不减
func (e *Engine) Mutations() uint64 { return e.mutations.Load() }

// Notify 每批有变更时非阻塞地踢一下
func (e *Engine) Notify() <-chan struct{} { return e.notify }

// Done Run 退出后关闭
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) MailboxFull() uint64 { return e.mailboxFull.Load() }

// Do 入队并等待结果。
// ctx 取消只影响等待：已经入队的命令照常执行，结果丢弃。
func (e *Engine) Do(ctx context.Context, cmd Command) (any, error) {
	env, err := e.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	select {
	case <-e.done:
		return nil, ErrEngineStopped
	default:
	}
	select {
	case e.in <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrEngineStopped
	}
	return e.wait(ctx, env)
}

// TryDo 邮箱满了直接返回 ErrEngineBusy，用于不能排队的入口（HTTP）
func (e *Engine) TryDo(ctx context.Context, cmd Command) (any, error) {
	env, err := e.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := e.tryEnqueue(env); err != nil {
		return nil, err
	}
	return e.wait(ctx, env)
}

func (e *Engine) tryEnqueue(env envelope) error {
	// chan 限制了数量，满了走 default，用这种方式做背压
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}
	select {
	case e.in <- env:
		return nil
	default:
		e.mailboxFull.Add(1)
		metrics.EngineMailboxFull.Inc()
		return ErrEngineBusy
	}
}

func (e *Engine) prepare(ctx context.Context, cmd Command) (envelope, error) {
	if cmd == nil {
		return envelope{}, ErrBadCommand
	}
	if err := cmd.Validate(); err != nil {
		metrics.EngineCommands.WithLabelValues(cmd.Kind(), "invalid").Inc()
		return envelope{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return envelope{ctx: ctx, cmd: cmd, reply: make(chan result, 1)}, nil
}

func (e *Engine) wait(ctx context.Context, env envelope) (any, error) {
	select {
	case r := <-env.reply:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		// Run 退出前可能已经回复
		select {
		case r := <-env.reply:
			return r.val, r.err
		default:
			return nil, ErrEngineStopped
		}
	}
}

// Run 单写协程：先阻塞拿 1 条，再尽量多拿几条（不阻塞），一批执行完发布一次快照。
// 快照发布之后才回复调用方，拿到结果再读 Snapshot 一定能看到自己的写入。
func (e *Engine) Run(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	defer close(e.done)

	// 复用 batch slice，避免每轮分配
	batch := make([]envelope, 0, e.cfg.BatchMax)
	results := make([]result, 0, e.cfg.BatchMax)
	for {
		var first envelope
		select {
		case <-ctx.Done():
			e.drainRejected()
			return
		case first = <-e.in:
		}
		batch = batch[:0]
		batch = append(batch, first)
		for len(batch) < e.cfg.BatchMax {
			select {
			case env := <-e.in:
				batch = append(batch, env)
			default:
				goto PROCESS
			}
		}
	PROCESS:
		results = results[:0]
		var changed uint64
		for i := range batch {
			r, ok := e.apply(batch[i])
			if ok {
				changed++
			}
			results = append(results, r)
		}
		if changed > 0 {
			e.snap.Store(e.st.Clone())
			// 先发布快照再计数，持久化按“先读计数再读快照”的顺序不会漏
			e.mutations.Add(changed)
			select {
			case e.notify <- struct{}{}:
			default:
			}
		}
		for i := range batch {
			batch[i].reply <- results[i]
			batch[i] = envelope{}
		}
	}
}

func (e *Engine) apply(env envelope) (res result, changed bool) {
	kind := env.cmd.Kind()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(env.ctx, "engine command panic", zap.String("kind", kind), zap.Any("panic", r))
			metrics.EngineCommands.WithLabelValues(kind, "panic").Inc()
			res, changed = result{err: errors.New("engine: internal error")}, false
		}
	}()

	val, err := env.cmd.apply(e.st, e.now())
	if err != nil {
		metrics.EngineCommands.WithLabelValues(kind, "rejected").Inc()
		logger.Debug(env.ctx, "engine command rejected", zap.String("kind", kind), zap.Error(err))
		return result{err: err}, false
	}
	metrics.EngineCommands.WithLabelValues(kind, "ok").Inc()
	return result{val: val}, true
}

// drainRejected 退出时邮箱里还没执行的命令直接回 ErrEngineStopped
func (e *Engine) drainRejected() {
	for {
		select {
		case env := <-e.in:
			env.reply <- result{err: ErrEngineStopped}
		default:
			return
		}
	}
}

// Exec 带类型的 Do
func Exec[T any](ctx context.Context, e *Engine, cmd Command) (T, error) {
	var zero T
	v, err := e.Do(ctx, cmd)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, ErrBadCommand
	}
	return out, nil
}

// TryExec 带类型的 TryDo
func TryExec[T any](ctx context.Context, e *Engine, cmd Command) (T, error) {
	var zero T
	v, err := e.TryDo(ctx, cmd)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, ErrBadCommand
	}
	return out, nil
}
