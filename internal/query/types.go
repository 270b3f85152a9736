package query

// Amounts are decimal strings: token amounts are uint64 and do not
// survive a round trip through JSON numbers in most clients.

// TreasuryResponse is a projected treasury record.
type TreasuryResponse struct {
	Address       string `json:"address"`
	Authority     string `json:"authority"`
	TreasuryMint  string `json:"treasury_mint"`
	PosMint       string `json:"pos_mint"`
	TreasuryVault string `json:"treasury_vault"`
	Bump          uint8  `json:"bump"`
	VaultBalance  string `json:"vault_balance"`
	ReceiptSupply string `json:"receipt_supply"`
	CreatedSeq    int64  `json:"created_seq"`
	AsOfSequence  int64  `json:"as_of_sequence"`
}

// BalanceResponse is a token account balance, optionally at a past sequence.
type BalanceResponse struct {
	Address      string `json:"address"`
	Owner        string `json:"owner,omitempty"`
	Mint         string `json:"mint,omitempty"`
	Amount       string `json:"amount"`
	UIAmount     string `json:"ui_amount,omitempty"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// PositionResponse is a user's receipt holding in one treasury.
type PositionResponse struct {
	Treasury     string `json:"treasury"`
	User         string `json:"user"`
	UserPosVault string `json:"user_pos_vault"`
	Amount       string `json:"amount"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID      string `json:"journal_id"`
	BatchID        string `json:"batch_id"`
	OpRef          string `json:"op_ref"`
	Sequence       int64  `json:"sequence"`
	InstructionSeq int64  `json:"instruction_seq"`
	DebitAccount   string `json:"debit_account"`
	CreditAccount  string `json:"credit_account"`
	Mint           string `json:"mint,omitempty"`
	Amount         string `json:"amount"`
	JournalType    string `json:"journal_type"`
	Timestamp      int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	HashChainBreaks    []int64            `json:"hash_chain_breaks"`
	UnbackedTreasuries []UnbackedTreasury `json:"unbacked_treasuries"`
	IsHealthy          bool               `json:"is_healthy"`
}

// UnbackedTreasury is a treasury whose vault and receipt supply diverge.
type UnbackedTreasury struct {
	Address       string `json:"address"`
	VaultBalance  string `json:"vault_balance"`
	ReceiptSupply string `json:"receipt_supply"`
}
