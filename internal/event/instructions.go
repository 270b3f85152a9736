package event

import "github.com/gagliardetto/solana-go"

// CreateTreasury registers a treasury for (TreasuryMint, Authority). The
// derived addresses are optional; when set they are checked against the
// derivation.
type CreateTreasury struct {
	Auth
	TreasuryMint  solana.PublicKey `json:"treasury_mint"`
	Authority     solana.PublicKey `json:"authority"`
	Treasury      solana.PublicKey `json:"treasury,omitempty"`
	TreasuryVault solana.PublicKey `json:"treasury_vault,omitempty"`
	PosMint       solana.PublicKey `json:"pos_mint,omitempty"`
}

func (c *CreateTreasury) InstructionType() InstructionType {
	return InstructionTypeCreateTreasury
}

func (c *CreateTreasury) Message() []byte {
	return newMessage(c.InstructionType(), &c.Auth).
		key(c.TreasuryMint).
		key(c.Authority).
		key(c.Treasury).
		key(c.TreasuryVault).
		key(c.PosMint).
		bytes()
}

// Position names the accounts a stake or redeem moves value between.
type Position struct {
	Treasury      solana.PublicKey `json:"treasury"`
	User          solana.PublicKey `json:"user"`
	UserVault     solana.PublicKey `json:"user_vault"`
	TreasuryVault solana.PublicKey `json:"treasury_vault,omitempty"`
	PosMint       solana.PublicKey `json:"pos_mint,omitempty"`
	UserPosVault  solana.PublicKey `json:"user_pos_vault,omitempty"`
	Amount        uint64           `json:"amount"`
}

func (p *Position) write(w *messageWriter) []byte {
	return w.key(p.Treasury).
		key(p.User).
		key(p.UserVault).
		key(p.TreasuryVault).
		key(p.PosMint).
		key(p.UserPosVault).
		u64(p.Amount).
		bytes()
}

// Stake deposits Amount of the treasury mint and receives receipts 1:1.
type Stake struct {
	Auth
	Position
}

func (s *Stake) InstructionType() InstructionType {
	return InstructionTypeStake
}

func (s *Stake) Message() []byte {
	return s.Position.write(newMessage(s.InstructionType(), &s.Auth))
}

// Redeem burns Amount of receipts and withdraws the same amount of the
// treasury mint.
type Redeem struct {
	Auth
	Position
}

func (r *Redeem) InstructionType() InstructionType {
	return InstructionTypeRedeem
}

func (r *Redeem) Message() []byte {
	return r.Position.write(newMessage(r.InstructionType(), &r.Auth))
}
