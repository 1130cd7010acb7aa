package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gopherwallet"

var (
	// 状态引擎
	EngineCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_commands_total",
			Help:      "Commands applied by the wallet state engine.",
		},
		[]string{"kind", "outcome"}, // outcome: ok/rejected
	)
	EngineMailboxFull = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_mailbox_full_total",
		Help:      "Commands rejected because the mailbox was full.",
	})

	// 同步
	SyncOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Wallet synchronization runs by terminal phase.",
		},
		[]string{"outcome"}, // done/already_synced/rejected/failed/busy
	)
	SyncWalletsMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_wallets_merged_total",
		Help:      "Wallets discovered and merged by synchronization.",
	})

	// 刷新
	RefreshOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Balance and rate refreshes by scope and outcome.",
		},
		[]string{"scope", "outcome"}, // scope: wallet/key/all/rates  outcome: ok/fresh/failed/stale/coalesced
	)
	CacheStaleRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_stale_update_rejected_total",
			Help:      "Completions rejected because a newer fetch already advanced the cache stamp.",
		},
		[]string{"ledger"}, // balance/rates
	)

	// 持久化
	SnapshotsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_snapshots_total",
			Help:      "Encrypted snapshot writes by outcome.",
		},
		[]string{"outcome"},
	)
	RecoverableDataLoss = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_recoverable_data_loss_total",
			Help:      "Startup loads that fell back to an empty state.",
		},
		[]string{"reason"},
	)

	// 外部依赖治理
	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"service", "method", "reason"},
	)
	CBRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of circuit breaker rejections.",
		},
		[]string{"service", "method", "reason"},
	)
	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"service", "method", "state"}, // closed/open/half_open
	)
)

// 连接池，后台 ticker 采样
var (
	RedisPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_open"})
	RedisPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_idle"})
	DbPoolOpen    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_open"})
	DbPoolInuse   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_inuse"})
)

func MustRegister() {
	prometheus.MustRegister(
		EngineCommands, EngineMailboxFull,
		SyncOutcomes, SyncWalletsMerged,
		RefreshOutcomes, CacheStaleRejected,
		SnapshotsWritten, RecoverableDataLoss,
		RateLimitBlockTotal, CBRejectTotal, CBState,
	)
}
