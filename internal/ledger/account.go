package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// AccountKind distinguishes the four account layouts the ledger stores.
type AccountKind uint8

const (
	KindSystem AccountKind = iota + 1 // wallet, holds lamports only
	KindMint
	KindToken
	KindData // opaque bytes owned by a program
)

func (k AccountKind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindMint:
		return "mint"
	case KindToken:
		return "token"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Allocation sizes in bytes, matching the on-chain layouts.
const (
	TokenAccountSize = 165
	MintAccountSize  = 82

	accountStorageOverhead = 128
	lamportsPerByteYear    = 3480
	exemptionThreshold     = 2
)

// RentExemptMinimum is the lamport deposit an account of the given size needs.
func RentExemptMinimum(size int) uint64 {
	return uint64(accountStorageOverhead+size) * lamportsPerByteYear * exemptionThreshold
}

var (
	// SystemProgramID owns wallets and is the source of airdropped lamports.
	SystemProgramID = solana.SystemProgramID
	// TokenProgramID owns every mint.
	TokenProgramID = solana.TokenProgramID
)

// Account is a single ledger entry. Which fields are meaningful depends on Kind.
type Account struct {
	Address  solana.PublicKey
	Kind     AccountKind
	Owner    solana.PublicKey // token holder, owning program, or system/token program
	Lamports uint64

	// Token accounts
	Mint   solana.PublicKey
	Amount uint64

	// Mints
	Decimals      uint8
	Supply        uint64
	MintAuthority solana.PublicKey

	// Data accounts
	Data []byte
}

// AccountPath returns the string representation for storage/logging
func (a Account) AccountPath() string {
	switch a.Kind {
	case KindToken:
		return fmt.Sprintf("token:%s:%s", a.Address, a.Mint)
	case KindMint:
		return fmt.Sprintf("mint:%s", a.Address)
	case KindData:
		return fmt.Sprintf("data:%s:%s", a.Address, a.Owner)
	case KindSystem:
		return fmt.Sprintf("system:%s", a.Address)
	}
	return "unknown"
}

// Size is the allocation size used for rent.
func (a Account) Size() int {
	switch a.Kind {
	case KindToken:
		return TokenAccountSize
	case KindMint:
		return MintAccountSize
	case KindData:
		return len(a.Data)
	}
	return 0
}

// Balance is the tracked quantity of the account: token amount, mint supply
// or, for wallets, lamports.
func (a Account) Balance() uint64 {
	switch a.Kind {
	case KindToken:
		return a.Amount
	case KindMint:
		return a.Supply
	}
	return a.Lamports
}

func (a Account) clone() Account {
	if a.Data != nil {
		a.Data = append([]byte(nil), a.Data...)
	}
	return a
}
