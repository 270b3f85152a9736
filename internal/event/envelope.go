package event

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// InstructionType discriminator for instruction payloads
type InstructionType int32

const (
	InstructionTypeUnknown InstructionType = iota
	InstructionTypeCreateTreasury
	InstructionTypeStake
	InstructionTypeRedeem
)

// Envelope wraps every applied instruction in the log
type Envelope struct {
	// Processor sequence, one per applied instruction
	Sequence int64

	// Ledger batch sequence the instruction committed as
	LedgerSequence int64

	// Stable idempotency key from the client
	IdempotencyKey string

	InstructionType InstructionType

	// Treasury the instruction acted on
	Treasury solana.PublicKey

	Signer solana.PublicKey
	Nonce  uint64

	Timestamp time.Time

	// JSON-encoded instruction
	Payload []byte

	// SHA-256 of state AFTER applying this instruction
	StateHash [32]byte

	// Previous instruction's state hash (chain integrity)
	PrevHash [32]byte
}

// Instruction is the interface all instruction payloads implement
type Instruction interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	InstructionType() InstructionType

	// Authorization returns the signer block carried by the instruction
	Authorization() *Auth

	// Message returns the canonical bytes the signer signs
	Message() []byte
}

func (t InstructionType) String() string {
	switch t {
	case InstructionTypeCreateTreasury:
		return "CreateTreasury"
	case InstructionTypeStake:
		return "Stake"
	case InstructionTypeRedeem:
		return "Redeem"
	default:
		return "Unknown"
	}
}
