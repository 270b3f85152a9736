package treasury

import (
	"TreasuryLedger/internal/address"
	"TreasuryLedger/internal/event"
	"TreasuryLedger/internal/ledger"
	"context"

	"github.com/gagliardetto/solana-go"
)

// CreateTreasury allocates the treasury record, its vault and its receipt
// mint in one transaction, paid for by the authority.
func (p *Program) CreateTreasury(ctx context.Context, in *event.CreateTreasury) (*Receipt, error) {
	receipt, err := p.createTreasury(ctx, in)
	if err != nil {
		p.logRejected("create_treasury", map[string]string{
			"treasury_mint": in.TreasuryMint.String(),
			"authority":     in.Authority.String(),
		}, err)
		return nil, err
	}
	p.logger.Info().
		Str("treasury", receipt.Treasury.Address.String()).
		Str("treasury_mint", receipt.Treasury.TreasuryMint.String()).
		Str("authority", receipt.Treasury.Authority.String()).
		Str("pos_mint", receipt.Treasury.PosMint.String()).
		Int64("sequence", receipt.Batch.Sequence).
		Msg("treasury created")
	return receipt, nil
}

func (p *Program) createTreasury(ctx context.Context, in *event.CreateTreasury) (*Receipt, error) {
	if err := p.checker.authorize(in, in.Authority, "authority"); err != nil {
		return nil, err
	}

	treasury, err := p.deriver.Treasury(in.TreasuryMint, in.Authority)
	if err != nil {
		return nil, fromLedger(err)
	}
	if err := matchSupplied(in.Treasury, treasury, "treasury"); err != nil {
		return nil, err
	}
	vault, err := p.deriver.TreasuryVault(treasury.Address)
	if err != nil {
		return nil, fromLedger(err)
	}
	if err := matchSupplied(in.TreasuryVault, vault, "treasury vault"); err != nil {
		return nil, err
	}
	posMint, err := p.deriver.PosMint(treasury.Address)
	if err != nil {
		return nil, fromLedger(err)
	}
	if err := matchSupplied(in.PosMint, posMint, "receipt mint"); err != nil {
		return nil, err
	}

	record := &Treasury{
		Address:       treasury.Address,
		Authority:     in.Authority,
		TreasuryMint:  in.TreasuryMint,
		PosMint:       posMint.Address,
		TreasuryVault: vault.Address,
		Bump:          treasury.Bump,
		VaultBump:     vault.Bump,
		PosMintBump:   posMint.Bump,
	}
	data, err := record.MarshalBinary()
	if err != nil {
		return nil, err
	}

	access := ledger.AccessSet{
		Writable: []solana.PublicKey{in.Authority, treasury.Address, vault.Address, posMint.Address},
		Readonly: []solana.PublicKey{in.TreasuryMint},
		Signers:  []solana.PublicKey{in.Authority},
	}
	batch, err := p.ledger.Execute(ctx, in.IdempotencyKey(), access, func(tx *ledger.Tx) error {
		attest(tx, in)
		mint, ok, err := tx.Account(in.TreasuryMint)
		if err != nil {
			return err
		}
		if !ok || mint.Kind != ledger.KindMint {
			return errorf(CodeInvalidAsset, "treasury mint %s is not an initialized mint", in.TreasuryMint)
		}
		if _, exists, err := tx.Account(treasury.Address); err != nil {
			return err
		} else if exists {
			return errorf(CodeAlreadyExists, "treasury %s already exists", treasury.Address)
		}

		if err := tx.CreateDataAccount(in.Authority, treasury.Address, p.id, data); err != nil {
			return err
		}
		if err := tx.CreateMint(in.Authority, posMint.Address, mint.Decimals, treasury.Address); err != nil {
			return err
		}
		return tx.CreateTokenAccount(in.Authority, vault.Address, in.TreasuryMint, treasury.Address)
	})
	if err != nil {
		return nil, fromLedger(err)
	}

	p.observe(record, 0, 0, "CreateTreasury", batch)
	return &Receipt{
		Batch:    batch,
		Treasury: record,
		Events: []Event{&TreasuryCreated{
			Treasury:      record.Address,
			Authority:     record.Authority,
			TreasuryMint:  record.TreasuryMint,
			PosMint:       record.PosMint,
			TreasuryVault: record.TreasuryVault,
			RentPaid:      rentPaid(batch),
		}},
	}, nil
}

// GetTreasury reads and validates the record stored at addr.
func (p *Program) GetTreasury(addr solana.PublicKey) (*Treasury, error) {
	acct, ok := p.ledger.Account(addr)
	if !ok {
		return nil, errorf(CodeNotFound, "treasury %s not found", addr)
	}
	if acct.Kind != ledger.KindData || !acct.Owner.Equals(p.id) {
		return nil, errorf(CodeAccountMismatch, "%s is not a treasury of program %s", addr, p.id)
	}

	t := &Treasury{Address: addr}
	if err := t.UnmarshalBinary(acct.Data); err != nil {
		return nil, &Error{Code: CodeAccountMismatch, Msg: "decode treasury", Err: err}
	}

	derived, err := verify(p.deriver, addr, "treasury", address.TagTreasury, t.TreasuryMint, t.Authority)
	if err != nil {
		return nil, err
	}
	if derived.Bump != t.Bump {
		return nil, errorf(CodeAccountMismatch, "treasury %s stores bump %d, derivation gives %d", addr, t.Bump, derived.Bump)
	}
	return t, nil
}

// Position is a user's receipt holding in one treasury.
type Position struct {
	Treasury     solana.PublicKey `json:"treasury"`
	User         solana.PublicKey `json:"user"`
	UserPosVault solana.PublicKey `json:"user_pos_vault"`
	Amount       uint64           `json:"amount"`
}

// GetPosition reads a user's receipt balance. A user who never staked has
// a zero position.
func (p *Program) GetPosition(treasury, user solana.PublicKey) (*Position, error) {
	t, err := p.GetTreasury(treasury)
	if err != nil {
		return nil, err
	}
	userPos, err := p.deriver.UserPosVault(t.PosMint, user)
	if err != nil {
		return nil, fromLedger(err)
	}
	pos := &Position{Treasury: treasury, User: user, UserPosVault: userPos.Address}
	if acct, ok := p.ledger.Account(userPos.Address); ok {
		pos.Amount = acct.Amount
	}
	return pos, nil
}
