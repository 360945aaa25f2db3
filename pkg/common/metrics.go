package common

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlockHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "block_ingestor_block_height",
		Help: "Highest block number written to the store",
	}, []string{"network", "source"})

	BlocksIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "block_ingestor_blocks_ingested_total",
		Help: "Total number of blocks written to the store",
	}, []string{"network", "source"})

	IngestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "block_ingestor_errors_total",
		Help: "Total number of ingestion errors",
	}, []string{"network", "source", "operation", "error_type"})

	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "block_ingestor_rpc_call_duration_seconds",
		Help:    "Time taken for upstream RPC calls",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"network", "node", "method", "status"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "block_ingestor_rpc_calls_total",
		Help: "Total number of upstream RPC calls",
	}, []string{"network", "node", "method", "status"})

	RateLimiterPermits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "block_ingestor_rate_limiter_permits_total",
		Help: "Total number of rate limiter permits granted",
	}, []string{"provider"})

	RateLimiterWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "block_ingestor_rate_limiter_wait_duration_seconds",
		Help:    "Time callers spent blocked in RateLimiter.Acquire",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"provider"})

	ChunksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "block_ingestor_backfill_chunks_completed_total",
		Help: "Total number of backfill chunks completed",
	}, []string{"network"})

	ChunksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "block_ingestor_backfill_chunks_failed_total",
		Help: "Total number of backfill chunk attempts that failed",
	}, []string{"network", "error_type"})

	ChunkProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "block_ingestor_backfill_chunk_duration_seconds",
		Help:    "Time taken to process one backfill chunk",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"network"})

	GasUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "block_ingestor_gas_utilization_ratio",
		Help: "Gas used over gas limit of the most recent head",
	}, []string{"network"})

	HeadLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "block_ingestor_head_lag_seconds",
		Help: "Delay between a head's timestamp and its arrival at the collector",
	}, []string{"network"})

	CollectorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "block_ingestor_collector_state",
		Help: "Realtime collector state (0=disconnected, 1=connecting, 2=subscribed)",
	}, []string{"network"})

	CollectorReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "block_ingestor_collector_reconnects_total",
		Help: "Total number of websocket reconnect attempts",
	}, []string{"network"})

	GapsDetected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "block_ingestor_gaps_detected",
		Help: "Number of gap regions found by the most recent scan",
	}, []string{"network"})

	GapBlocksMissing = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "block_ingestor_gap_blocks_missing",
		Help: "Total number of missing blocks found by the most recent scan",
	}, []string{"network"})

	StalenessAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "block_ingestor_staleness_age_seconds",
		Help: "Age of the newest stored block at the last staleness check",
	}, []string{"network"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "block_ingestor_notifications_sent_total",
		Help: "Total number of notifications sent",
	}, []string{"network", "channel", "status"})

	HeartbeatPings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "block_ingestor_heartbeat_pings_total",
		Help: "Total number of dead-man's-switch pings",
	}, []string{"network", "status"})

	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "block_ingestor_store_operation_duration_seconds",
		Help:    "Duration of ClickHouse operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"network", "operation", "status"})

	StoreOperationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "block_ingestor_store_operations_total",
		Help: "Total number of ClickHouse operations",
	}, []string{"network", "operation", "status"})

	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "block_ingestor_leader_election_status",
		Help: "Leader election status (1=leader, 0=follower)",
	}, []string{"network", "node_id"})

	TasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "block_ingestor_tasks_enqueued_total",
		Help: "Total number of backfill chunk tasks enqueued",
	}, []string{"network", "queue"})

	TaskProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "block_ingestor_task_processing_duration_seconds",
		Help:    "Time taken to process a chunk task",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"network", "queue", "task_type"})
)
