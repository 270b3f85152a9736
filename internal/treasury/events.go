package treasury

import "github.com/gagliardetto/solana-go"

// Event is a program event emitted after a successful commit.
type Event interface {
	EventName() string
	TreasuryAddress() solana.PublicKey
}

type TreasuryCreated struct {
	Treasury      solana.PublicKey `json:"treasury"`
	Authority     solana.PublicKey `json:"authority"`
	TreasuryMint  solana.PublicKey `json:"treasury_mint"`
	PosMint       solana.PublicKey `json:"pos_mint"`
	TreasuryVault solana.PublicKey `json:"treasury_vault"`
	RentPaid      uint64           `json:"rent_paid"`
}

func (e *TreasuryCreated) EventName() string                 { return "TreasuryCreated" }
func (e *TreasuryCreated) TreasuryAddress() solana.PublicKey { return e.Treasury }

// Deposited follows a stake. VaultBalance and ReceiptSupply are the
// post-commit values and are always equal.
type Deposited struct {
	Treasury      solana.PublicKey `json:"treasury"`
	User          solana.PublicKey `json:"user"`
	UserVault     solana.PublicKey `json:"user_vault"`
	UserPosVault  solana.PublicKey `json:"user_pos_vault"`
	Amount        uint64           `json:"amount"`
	VaultBalance  uint64           `json:"vault_balance"`
	ReceiptSupply uint64           `json:"receipt_supply"`
	RentPaid      uint64           `json:"rent_paid"`
}

func (e *Deposited) EventName() string                 { return "Deposited" }
func (e *Deposited) TreasuryAddress() solana.PublicKey { return e.Treasury }

// Claimed follows a redeem.
type Claimed struct {
	Treasury      solana.PublicKey `json:"treasury"`
	User          solana.PublicKey `json:"user"`
	UserVault     solana.PublicKey `json:"user_vault"`
	UserPosVault  solana.PublicKey `json:"user_pos_vault"`
	Amount        uint64           `json:"amount"`
	VaultBalance  uint64           `json:"vault_balance"`
	ReceiptSupply uint64           `json:"receipt_supply"`
}

func (e *Claimed) EventName() string                 { return "Claimed" }
func (e *Claimed) TreasuryAddress() solana.PublicKey { return e.Treasury }
