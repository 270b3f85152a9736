package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// AccessSet declares every account a transaction may touch, and which
// identities have authorized it.
type AccessSet struct {
	Writable []solana.PublicKey
	Readonly []solana.PublicKey
	Signers  []solana.PublicKey
}

func (a AccessSet) all() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(a.Writable)+len(a.Readonly))
	out = append(out, a.Writable...)
	return append(out, a.Readonly...)
}

// Tx is a staged transaction. Changes are visible only through the Tx until
// Ledger.Execute commits them.
type Tx struct {
	batchID   uuid.UUID
	ref       string
	timestamp int64

	writable map[solana.PublicKey]bool
	signers  map[solana.PublicKey]struct{}
	stage    *stage
	journals []Journal
	attested *Attestation
}

func newTx(tracker *BalanceTracker, ref string, ts int64, access AccessSet) *Tx {
	tx := &Tx{
		batchID:   uuid.New(),
		ref:       ref,
		timestamp: ts,
		writable:  make(map[solana.PublicKey]bool, len(access.Writable)+len(access.Readonly)),
		signers:   make(map[solana.PublicKey]struct{}, len(access.Signers)),
		stage:     newStage(tracker.Get),
	}
	for _, k := range access.Readonly {
		tx.writable[k] = false
	}
	for _, k := range access.Writable {
		tx.writable[k] = true
	}
	for _, k := range access.Signers {
		tx.signers[k] = struct{}{}
	}
	return tx
}

// Attest records which signed instruction this transaction applies. The
// attestation commits with the batch or not at all.
func (tx *Tx) Attest(kind string, signer solana.PublicKey, nonce uint64) {
	tx.attested = &Attestation{Kind: kind, Ref: tx.ref, Signer: signer, Nonce: nonce}
}

// Account returns the staged view of a declared account.
func (tx *Tx) Account(addr solana.PublicKey) (Account, bool, error) {
	if _, ok := tx.writable[addr]; !ok {
		return Account{}, false, fmt.Errorf("%w: %s", ErrUndeclaredAccount, addr)
	}
	a, ok := tx.stage.get(addr)
	if !ok {
		return Account{}, false, nil
	}
	return a.clone(), true, nil
}

// Balance returns the staged token amount, mint supply or wallet lamports.
func (tx *Tx) Balance(addr solana.PublicKey) (uint64, error) {
	a, ok, err := tx.Account(addr)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return a.Balance(), nil
}

// Airdrop issues lamports to a wallet, creating it when missing.
func (tx *Tx) Airdrop(to solana.PublicKey, lamports uint64) error {
	if lamports == 0 {
		return ErrInvalidAmount
	}
	if err := tx.requireWritable(to); err != nil {
		return err
	}
	if a, ok := tx.stage.get(to); ok && a.Kind != KindSystem {
		return fmt.Errorf("%w: %s is a %s account", ErrAccountExists, to, a.Kind)
	}
	return tx.record(Journal{
		DebitAccount:  to,
		CreditAccount: SystemProgramID,
		Amount:        lamports,
		JournalType:   JournalTypeAirdrop,
	})
}

// CreateMint allocates a mint with zero supply, rent paid by payer.
func (tx *Tx) CreateMint(payer, addr solana.PublicKey, decimals uint8, authority solana.PublicKey) error {
	return tx.allocate(payer, Account{
		Address:       addr,
		Kind:          KindMint,
		Owner:         TokenProgramID,
		Decimals:      decimals,
		MintAuthority: authority,
	})
}

// CreateTokenAccount allocates an empty token account of mint held by owner.
func (tx *Tx) CreateTokenAccount(payer, addr, mint, owner solana.PublicKey) error {
	m, ok, err := tx.Account(mint)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: mint %s", ErrAccountNotFound, mint)
	}
	if m.Kind != KindMint {
		return fmt.Errorf("%w: %s", ErrNotMint, mint)
	}
	return tx.allocate(payer, Account{
		Address: addr,
		Kind:    KindToken,
		Owner:   owner,
		Mint:    mint,
	})
}

// CreateDataAccount allocates a program-owned account holding data.
func (tx *Tx) CreateDataAccount(payer, addr, program solana.PublicKey, data []byte) error {
	return tx.allocate(payer, Account{
		Address: addr,
		Kind:    KindData,
		Owner:   program,
		Data:    append([]byte(nil), data...),
	})
}

func (tx *Tx) allocate(payer solana.PublicKey, acct Account) error {
	if err := tx.requireWritable(acct.Address); err != nil {
		return err
	}
	if err := tx.requireWritable(payer); err != nil {
		return err
	}
	if err := tx.requireSigner(payer); err != nil {
		return err
	}
	if _, exists := tx.stage.get(acct.Address); exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, acct.Address)
	}

	p, ok := tx.stage.get(payer)
	if !ok || p.Kind != KindSystem {
		return fmt.Errorf("%w: payer %s has no wallet", ErrInsufficientLamports, payer)
	}
	rent := RentExemptMinimum(acct.Size())
	if p.Lamports < rent {
		return fmt.Errorf("%w: payer %s has %d, need %d", ErrInsufficientLamports, payer, p.Lamports, rent)
	}

	tx.stage.put(acct)
	return tx.record(Journal{
		DebitAccount:  acct.Address,
		CreditAccount: payer,
		Amount:        rent,
		JournalType:   JournalTypeRent,
	})
}

// Transfer moves amount between two token accounts of the same mint.
// authority must own the source.
func (tx *Tx) Transfer(from, to solana.PublicKey, amount uint64, authority solana.PublicKey) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	src, err := tx.writableToken(from)
	if err != nil {
		return err
	}
	dst, err := tx.writableToken(to)
	if err != nil {
		return err
	}
	if !src.Mint.Equals(dst.Mint) {
		return fmt.Errorf("%w: %s -> %s", ErrMintMismatch, src.Mint, dst.Mint)
	}
	if !src.Owner.Equals(authority) {
		return fmt.Errorf("%w: %s is owned by %s", ErrOwnerMismatch, from, src.Owner)
	}
	if err := tx.requireSigner(authority); err != nil {
		return err
	}
	return tx.record(Journal{
		DebitAccount:  to,
		CreditAccount: from,
		Mint:          src.Mint,
		Amount:        amount,
		JournalType:   JournalTypeTransfer,
	})
}

// MintTo issues new units into a token account. authority must be the
// mint authority.
func (tx *Tx) MintTo(mint, to solana.PublicKey, amount uint64, authority solana.PublicKey) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	m, err := tx.writableMint(mint)
	if err != nil {
		return err
	}
	dst, err := tx.writableToken(to)
	if err != nil {
		return err
	}
	if !dst.Mint.Equals(mint) {
		return fmt.Errorf("%w: %s holds %s", ErrMintMismatch, to, dst.Mint)
	}
	if !m.MintAuthority.Equals(authority) {
		return fmt.Errorf("%w: mint authority of %s is %s", ErrOwnerMismatch, mint, m.MintAuthority)
	}
	if err := tx.requireSigner(authority); err != nil {
		return err
	}
	return tx.record(Journal{
		DebitAccount:  to,
		CreditAccount: mint,
		Mint:          mint,
		Amount:        amount,
		JournalType:   JournalTypeMintTo,
	})
}

// Burn destroys units held in a token account. authority must own it.
func (tx *Tx) Burn(mint, from solana.PublicKey, amount uint64, authority solana.PublicKey) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if _, err := tx.writableMint(mint); err != nil {
		return err
	}
	src, err := tx.writableToken(from)
	if err != nil {
		return err
	}
	if !src.Mint.Equals(mint) {
		return fmt.Errorf("%w: %s holds %s", ErrMintMismatch, from, src.Mint)
	}
	if !src.Owner.Equals(authority) {
		return fmt.Errorf("%w: %s is owned by %s", ErrOwnerMismatch, from, src.Owner)
	}
	if err := tx.requireSigner(authority); err != nil {
		return err
	}
	return tx.record(Journal{
		DebitAccount:  mint,
		CreditAccount: from,
		Mint:          mint,
		Amount:        amount,
		JournalType:   JournalTypeBurn,
	})
}

func (tx *Tx) record(j Journal) error {
	j.JournalID = uuid.New()
	j.BatchID = tx.batchID
	j.OpRef = tx.ref
	j.Timestamp = tx.timestamp
	if err := applyJournal(tx.stage, j); err != nil {
		return err
	}
	tx.journals = append(tx.journals, j)
	return nil
}

func (tx *Tx) requireWritable(addr solana.PublicKey) error {
	w, ok := tx.writable[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUndeclaredAccount, addr)
	}
	if !w {
		return fmt.Errorf("%w: %s", ErrReadonlyAccount, addr)
	}
	return nil
}

func (tx *Tx) requireSigner(k solana.PublicKey) error {
	if _, ok := tx.signers[k]; !ok {
		return fmt.Errorf("%w: %s", ErrMissingSignature, k)
	}
	return nil
}

func (tx *Tx) writableToken(addr solana.PublicKey) (*Account, error) {
	if err := tx.requireWritable(addr); err != nil {
		return nil, err
	}
	a, ok := tx.stage.get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if a.Kind != KindToken {
		return nil, fmt.Errorf("%w: %s", ErrNotTokenAccount, addr)
	}
	return a, nil
}

func (tx *Tx) writableMint(addr solana.PublicKey) (*Account, error) {
	if err := tx.requireWritable(addr); err != nil {
		return nil, err
	}
	a, ok := tx.stage.get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if a.Kind != KindMint {
		return nil, fmt.Errorf("%w: %s", ErrNotMint, addr)
	}
	return a, nil
}
