package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeTransfer JournalType = iota
	JournalTypeMintTo
	JournalTypeBurn
	JournalTypeRent    // lamports from payer into a freshly allocated account
	JournalTypeAirdrop // lamports issued by the system program
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeMintTo:
		return "mint_to"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeRent:
		return "rent"
	case JournalTypeAirdrop:
		return "airdrop"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry.
//
// The debit side's tracked balance increases and the credit side's
// decreases, except for mint accounts: MintTo credits the mint while raising
// its supply, Burn debits it while lowering supply.
type Journal struct {
	JournalID     uuid.UUID        `json:"journal_id"`
	BatchID       uuid.UUID        `json:"batch_id"`
	OpRef         string           `json:"op_ref"`
	Sequence      int64            `json:"sequence"`
	DebitAccount  solana.PublicKey `json:"debit_account"`
	CreditAccount solana.PublicKey `json:"credit_account"`
	Mint          solana.PublicKey `json:"mint"` // zero for lamport movements
	Amount        uint64           `json:"amount"`
	JournalType   JournalType      `json:"journal_type"`
	Timestamp     int64            `json:"timestamp"` // epoch microseconds
}

// IsLamports reports whether the entry moves lamports rather than tokens.
func (j Journal) IsLamports() bool {
	return j.JournalType == JournalTypeRent || j.JournalType == JournalTypeAirdrop
}

// Attestation names the signed instruction a batch applied. Stores keep it
// with the batch so replay protection survives a restart.
type Attestation struct {
	Kind   string           `json:"kind"`
	Ref    string           `json:"ref"`
	Signer solana.PublicKey `json:"signer"`
	Nonce  uint64           `json:"nonce"`
}

// Batch is the set of journal entries one transaction committed.
type Batch struct {
	BatchID     uuid.UUID    `json:"batch_id"`
	OpRef       string       `json:"op_ref"`
	Sequence    int64        `json:"sequence"`
	Timestamp   int64        `json:"timestamp"`
	Journals    []Journal    `json:"journals"`
	Attestation *Attestation `json:"attestation,omitempty"`
}

// Validate ensures the batch is well-formed. Each entry moves one amount
// between two accounts, so every entry balances on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == 0 {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}

// Touched returns every account the batch moved value through, in journal order.
func (b *Batch) Touched() []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{}, len(b.Journals)*2)
	out := make([]solana.PublicKey, 0, len(b.Journals)*2)
	for _, j := range b.Journals {
		for _, k := range [2]solana.PublicKey{j.DebitAccount, j.CreditAccount} {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}
