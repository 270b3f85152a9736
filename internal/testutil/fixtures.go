package testutil

import (
	"TreasuryLedger/internal/event"
	"TreasuryLedger/internal/ledger"
	"TreasuryLedger/internal/treasury"
	"context"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

const (
	Decimals        = 9
	OneToken        = 1_000_000_000
	InitialHoldings = 10_000 * OneToken
	WalletLamports  = 10 * 1_000_000_000
)

// NewKeypair returns a fresh ed25519 wallet key.
func NewKeypair(t testing.TB) solana.PrivateKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

// World is an in-memory ledger with one underlying mint and a deployed
// treasury program.
type World struct {
	Ledger        *ledger.Ledger
	Program       *treasury.Program
	ProgramID     solana.PublicKey
	MintAuthority solana.PrivateKey
	Mint          solana.PublicKey

	mu     sync.Mutex
	nonces map[solana.PublicKey]uint64
}

// User is a funded wallet holding a vault of the world's mint.
type User struct {
	Key   solana.PrivateKey
	Vault solana.PublicKey
}

func (u *User) PublicKey() solana.PublicKey {
	return u.Key.PublicKey()
}

func NewWorld(t testing.TB, opts ...ledger.Option) *World {
	t.Helper()
	w := &World{
		Ledger:        ledger.New(opts...),
		ProgramID:     NewKeypair(t).PublicKey(),
		MintAuthority: NewKeypair(t),
		nonces:        make(map[solana.PublicKey]uint64),
	}
	w.Program = treasury.NewProgram(w.ProgramID, w.Ledger)

	ctx := context.Background()
	authority := w.MintAuthority.PublicKey()
	if err := w.Ledger.Airdrop(ctx, authority, WalletLamports); err != nil {
		t.Fatalf("airdrop mint authority: %v", err)
	}
	mint, err := w.Ledger.CreateMint(ctx, authority, Decimals, authority)
	if err != nil {
		t.Fatalf("create mint: %v", err)
	}
	w.Mint = mint
	return w
}

// NewUser funds a wallet with lamports and mints holdings into a new vault.
func (w *World) NewUser(t testing.TB, holdings uint64) *User {
	t.Helper()
	ctx := context.Background()
	u := &User{Key: NewKeypair(t)}
	if err := w.Ledger.Airdrop(ctx, u.PublicKey(), WalletLamports); err != nil {
		t.Fatalf("airdrop user: %v", err)
	}
	vault, err := w.Ledger.CreateTokenAccount(ctx, u.PublicKey(), w.Mint, u.PublicKey())
	if err != nil {
		t.Fatalf("create user vault: %v", err)
	}
	u.Vault = vault
	if holdings > 0 {
		if err := w.Ledger.MintTo(ctx, w.Mint, vault, holdings, w.MintAuthority.PublicKey()); err != nil {
			t.Fatalf("mint holdings: %v", err)
		}
	}
	return u
}

// NextNonce returns the next increasing nonce for signer.
func (w *World) NextNonce(signer solana.PublicKey) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nonces[signer]++
	return w.nonces[signer]
}

func (w *World) CreateTreasuryInstr(t testing.TB, authority solana.PrivateKey) *event.CreateTreasury {
	t.Helper()
	in := &event.CreateTreasury{
		Auth:         event.Auth{InstructionID: uuid.New(), Nonce: w.NextNonce(authority.PublicKey())},
		TreasuryMint: w.Mint,
		Authority:    authority.PublicKey(),
	}
	mustSign(t, in, authority)
	return in
}

func (w *World) StakeInstr(t testing.TB, u *User, treasuryAddr solana.PublicKey, amount uint64) *event.Stake {
	t.Helper()
	in := &event.Stake{
		Auth:     event.Auth{InstructionID: uuid.New(), Nonce: w.NextNonce(u.PublicKey())},
		Position: w.position(u, treasuryAddr, amount),
	}
	mustSign(t, in, u.Key)
	return in
}

func (w *World) RedeemInstr(t testing.TB, u *User, treasuryAddr solana.PublicKey, amount uint64) *event.Redeem {
	t.Helper()
	in := &event.Redeem{
		Auth:     event.Auth{InstructionID: uuid.New(), Nonce: w.NextNonce(u.PublicKey())},
		Position: w.position(u, treasuryAddr, amount),
	}
	mustSign(t, in, u.Key)
	return in
}

func (w *World) position(u *User, treasuryAddr solana.PublicKey, amount uint64) event.Position {
	return event.Position{
		Treasury:  treasuryAddr,
		User:      u.PublicKey(),
		UserVault: u.Vault,
		Amount:    amount,
	}
}

// MustCreateTreasury registers a treasury for the world's mint under a new
// funded authority.
func (w *World) MustCreateTreasury(t testing.TB) (*treasury.Treasury, solana.PrivateKey) {
	t.Helper()
	authority := NewKeypair(t)
	if err := w.Ledger.Airdrop(context.Background(), authority.PublicKey(), WalletLamports); err != nil {
		t.Fatalf("airdrop authority: %v", err)
	}
	receipt, err := w.Program.CreateTreasury(context.Background(), w.CreateTreasuryInstr(t, authority))
	if err != nil {
		t.Fatalf("create treasury: %v", err)
	}
	return receipt.Treasury, authority
}

// Resign re-signs an instruction after a test mutated it.
func Resign(t testing.TB, in event.Instruction, key solana.PrivateKey) {
	t.Helper()
	mustSign(t, in, key)
}

func mustSign(t testing.TB, in event.Instruction, key solana.PrivateKey) {
	t.Helper()
	if err := event.Sign(in, key); err != nil {
		t.Fatalf("sign: %v", err)
	}
}

// Balance returns a token account's amount, zero when it does not exist.
func (w *World) Balance(addr solana.PublicKey) uint64 {
	a, _ := w.Ledger.Account(addr)
	return a.Amount
}
