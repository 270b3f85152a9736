package server

import (
	"TreasuryLedger/internal/query"
	"encoding/json"
)

// InstructionResponse reports a submitted instruction. A duplicate whose
// original result has left the cache carries only Duplicate.
type InstructionResponse struct {
	Sequence       int64       `json:"sequence,omitempty"`
	LedgerSequence int64       `json:"ledger_sequence,omitempty"`
	Duplicate      bool        `json:"duplicate"`
	Treasury       string      `json:"treasury,omitempty"`
	StateHash      string      `json:"state_hash,omitempty"`
	Events         []EventView `json:"events,omitempty"`
}

type EventView struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

type GetTreasuryRequest struct {
	Address string `json:"address"`
}

// TreasuryView is the live treasury record together with its backing.
type TreasuryView struct {
	Address       string `json:"address"`
	Authority     string `json:"authority"`
	TreasuryMint  string `json:"treasury_mint"`
	PosMint       string `json:"pos_mint"`
	TreasuryVault string `json:"treasury_vault"`
	Bump          uint8  `json:"bump"`
	VaultBump     uint8  `json:"vault_bump"`
	PosMintBump   uint8  `json:"pos_mint_bump"`
	VaultBalance  string `json:"vault_balance"`
	ReceiptSupply string `json:"receipt_supply"`
	AsOfSequence  int64  `json:"as_of_sequence"`
}

// GetBalanceRequest reads live state when AsOfSequence is zero and the
// projection history otherwise.
type GetBalanceRequest struct {
	Address      string `json:"address"`
	AsOfSequence int64  `json:"as_of_sequence,omitempty"`
}

type GetPositionRequest struct {
	Treasury     string `json:"treasury"`
	User         string `json:"user"`
	AsOfSequence int64  `json:"as_of_sequence,omitempty"`
}

type VerifyIntegrityRequest struct{}

type ListJournalsRequest struct {
	Address       string `json:"address"`
	Limit         int    `json:"limit,omitempty"`
	AfterSequence int64  `json:"after_sequence,omitempty"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

// --- Faucet ---

type AirdropRequest struct {
	Address  string `json:"address"`
	Lamports string `json:"lamports"`
}

type AirdropResponse struct {
	Address  string `json:"address"`
	Lamports string `json:"lamports"`
}

type CreateMintRequest struct {
	Payer     string `json:"payer"`
	Authority string `json:"authority"`
	Decimals  uint8  `json:"decimals"`
}

type CreateTokenAccountRequest struct {
	Payer string `json:"payer"`
	Mint  string `json:"mint"`
	Owner string `json:"owner"`
}

type AccountResponse struct {
	Address string `json:"address"`
}

// MintToRequest takes either a raw Amount or a UIAmount in whole tokens,
// e.g. "10000" raw units or "0.00001" at 9 decimals.
type MintToRequest struct {
	Mint      string `json:"mint"`
	To        string `json:"to"`
	Authority string `json:"authority"`
	Amount    string `json:"amount,omitempty"`
	UIAmount  string `json:"ui_amount,omitempty"`
}
