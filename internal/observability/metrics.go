package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the treasury ledger.
type Metrics struct {
	// --- Processor ---
	InstructionsApplied  *prometheus.CounterVec
	InstructionsRejected *prometheus.CounterVec
	InstructionDuration  *prometheus.HistogramVec
	Journals             *prometheus.CounterVec
	StateHashDur         prometheus.Histogram
	CoreSequence         prometheus.Gauge

	// --- Treasury state ---
	VaultBalance  *prometheus.GaugeVec
	ReceiptSupply *prometheus.GaugeVec
	RentCharged   *prometheus.CounterVec

	// --- Channels & backpressure ---
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	StaleNonces           *prometheus.CounterVec

	// --- Persistence ---
	PersistInstructionsWritten prometheus.Counter
	PersistJournalsWritten     prometheus.Counter
	PersistBatchSize           prometheus.Histogram
	PersistBatchDur            prometheus.Histogram
	PersistErrors              *prometheus.CounterVec
	PersistRetry               prometheus.Counter
	PersistLastSequence        prometheus.Gauge

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg; tests pass a fresh
// prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05,
	}

	return &Metrics{
		InstructionsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_instructions_applied_total",
			Help: "Instructions committed by the processor",
		}, []string{"instruction_type"}),

		InstructionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_instructions_rejected_total",
			Help: "Instructions rejected, by error code",
		}, []string{"instruction_type", "code"}),

		InstructionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "treasury_instruction_duration_seconds",
			Help:    "Time to apply a single instruction",
			Buckets: latencyBuckets,
		}, []string{"instruction_type"}),

		Journals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_journals_total",
			Help: "Journal entries committed",
		}, []string{"journal_type"}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "treasury_state_hash_duration_seconds",
			Help:    "Time to compute the state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "treasury_core_sequence",
			Help: "Last applied processor sequence",
		}),

		VaultBalance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "treasury_vault_balance",
			Help: "Treasury vault balance in raw units",
		}, []string{"treasury"}),

		ReceiptSupply: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "treasury_receipt_supply",
			Help: "Receipt mint supply in raw units",
		}, []string{"treasury"}),

		RentCharged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_rent_charged_lamports_total",
			Help: "Lamports charged as rent for allocations",
		}, []string{"instruction_type"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "treasury_projection_drops_total",
			Help: "Outputs dropped due to a full projection channel",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "treasury_publish_drops_total",
			Help: "Program events dropped due to a full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "treasury_persist_backpressure_total",
			Help: "Times the processor blocked on the persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"instruction_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "treasury_dedup_lru_size",
			Help: "Entries in the idempotency LRU",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "treasury_dedup_lru_evictions_total",
			Help: "Idempotency LRU evictions",
		}),

		StaleNonces: f.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_stale_nonces_total",
			Help: "Instructions rejected for a non-increasing signer nonce",
		}, []string{"instruction_type"}),

		PersistInstructionsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "treasury_persist_instructions_written_total",
			Help: "Instruction log rows written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "treasury_persist_journals_written_total",
			Help: "Journal rows written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "treasury_persist_batch_size",
			Help:    "Outputs per persistence flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "treasury_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "treasury_persist_retries_total",
			Help: "Persistence flush retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "treasury_persist_last_sequence",
			Help: "Last processor sequence committed to Postgres",
		}),

		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_ingest_messages_total",
			Help: "Inbound instruction messages by outcome",
		}, []string{"subject", "outcome"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_query_requests_total",
			Help: "API requests by method",
		}, []string{"method"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "treasury_query_duration_seconds",
			Help:    "API request duration by method",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_query_errors_total",
			Help: "API errors by method and code",
		}, []string{"method", "code"}),
	}
}
