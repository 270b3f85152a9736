package treasury

import (
	"TreasuryLedger/internal/address"
	"TreasuryLedger/internal/ledger"
	"TreasuryLedger/internal/observability"
	"context"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
)

// AssetLedger is the ledger surface the program runs against.
type AssetLedger interface {
	Execute(ctx context.Context, ref string, access ledger.AccessSet, fn func(tx *ledger.Tx) error) (*ledger.Batch, error)
	Account(addr solana.PublicKey) (ledger.Account, bool)
}

// Receipt is the outcome of a committed instruction.
type Receipt struct {
	Batch    *ledger.Batch
	Treasury *Treasury
	Events   []Event
}

// Program is the treasury custody program. Every operation is one atomic
// ledger transaction; the program keeps no state of its own.
type Program struct {
	id      solana.PublicKey
	deriver *address.Deriver
	checker *checker
	ledger  AssetLedger
	logger  zerolog.Logger
	metrics *observability.Metrics
}

type Option func(*Program)

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Program) { p.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Program) { p.metrics = m }
}

func NewProgram(programID solana.PublicKey, l AssetLedger, opts ...Option) *Program {
	deriver := address.NewDeriver(programID)
	p := &Program{
		id:      programID,
		deriver: deriver,
		checker: &checker{deriver: deriver},
		ledger:  l,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Program) ID() solana.PublicKey {
	return p.id
}

func (p *Program) Deriver() *address.Deriver {
	return p.deriver
}

func (p *Program) observe(t *Treasury, vaultBalance, receiptSupply uint64, kind string, batch *ledger.Batch) {
	if p.metrics == nil {
		return
	}
	label := t.Address.String()
	p.metrics.VaultBalance.WithLabelValues(label).Set(float64(vaultBalance))
	p.metrics.ReceiptSupply.WithLabelValues(label).Set(float64(receiptSupply))
	if rent := rentPaid(batch); rent > 0 {
		p.metrics.RentCharged.WithLabelValues(kind).Add(float64(rent))
	}
}

func (p *Program) logRejected(op string, fields map[string]string, err error) {
	evt := p.logger.Warn().Str("op", op).Err(err)
	if code, ok := CodeOf(err); ok {
		evt = evt.Str("code", string(code))
	}
	for k, v := range fields {
		evt = evt.Str(k, v)
	}
	evt.Msg("instruction rejected")
}

func rentPaid(batch *ledger.Batch) uint64 {
	var total uint64
	for _, j := range batch.Journals {
		if j.JournalType == ledger.JournalTypeRent {
			total += j.Amount
		}
	}
	return total
}

func amountField(v uint64) string {
	return strconv.FormatUint(v, 10)
}
