package treasury

import (
	"TreasuryLedger/internal/event"
	"TreasuryLedger/internal/ledger"
	"context"

	"github.com/gagliardetto/solana-go"
)

// Redeem burns Amount of the user's receipts and returns the same amount
// of the treasury mint from the treasury vault. It never allocates, so it
// never charges rent.
func (p *Program) Redeem(ctx context.Context, in *event.Redeem) (*Receipt, error) {
	receipt, err := p.redeem(ctx, in)
	if err != nil {
		p.logRejected("redeem", positionFields(&in.Position), err)
		return nil, err
	}
	ev := receipt.Events[0].(*Claimed)
	p.logger.Info().
		Str("treasury", ev.Treasury.String()).
		Str("user", ev.User.String()).
		Uint64("amount", ev.Amount).
		Uint64("vault_balance", ev.VaultBalance).
		Int64("sequence", receipt.Batch.Sequence).
		Msg("redeem applied")
	return receipt, nil
}

func (p *Program) redeem(ctx context.Context, in *event.Redeem) (*Receipt, error) {
	if err := requirePositive(in.Amount); err != nil {
		return nil, err
	}
	if err := p.checker.authorize(in, in.User, "user"); err != nil {
		return nil, err
	}
	t, err := p.GetTreasury(in.Treasury)
	if err != nil {
		return nil, err
	}
	accts, err := p.checker.resolvePosition(t, &in.Position)
	if err != nil {
		return nil, err
	}

	access := ledger.AccessSet{
		Writable: []solana.PublicKey{in.UserVault, accts.vault, accts.posMint, accts.userPosVault},
		Readonly: []solana.PublicKey{t.Address},
		Signers:  []solana.PublicKey{in.User, t.Address},
	}

	var vaultBalance, receiptSupply uint64
	batch, err := p.ledger.Execute(ctx, in.IdempotencyKey(), access, func(tx *ledger.Tx) error {
		attest(tx, in)
		pos, ok, err := tx.Account(accts.userPosVault)
		if err != nil {
			return err
		}
		if !ok {
			return errorf(CodeInsufficientFunds, "user %s holds no receipts of treasury %s", in.User, t.Address)
		}
		if !pos.Owner.Equals(in.User) {
			return errorf(CodeUnauthorized, "user receipt vault %s is owned by %s", accts.userPosVault, pos.Owner)
		}

		dst, ok, err := tx.Account(in.UserVault)
		if err != nil {
			return err
		}
		if !ok {
			return errorf(CodeNotFound, "user vault %s not found", in.UserVault)
		}
		if dst.Kind != ledger.KindToken {
			return errorf(CodeInvalidAsset, "user vault %s is not a token account", in.UserVault)
		}
		if !dst.Owner.Equals(in.User) {
			return errorf(CodeUnauthorized, "user vault %s is owned by %s", in.UserVault, dst.Owner)
		}
		if !dst.Mint.Equals(t.TreasuryMint) {
			return errorf(CodeInvalidAsset, "user vault holds %s, treasury pays %s", dst.Mint, t.TreasuryMint)
		}
		if pos.Amount < in.Amount {
			return errorf(CodeInsufficientFunds, "user holds %d receipts, redeem needs %d", pos.Amount, in.Amount)
		}

		if err := tx.Burn(accts.posMint, accts.userPosVault, in.Amount, in.User); err != nil {
			return err
		}
		held, err := tx.Balance(accts.vault)
		if err != nil {
			return err
		}
		if held < in.Amount {
			return errorf(CodeInvariantViolation, "treasury vault holds %d, cannot back redeem of %d", held, in.Amount)
		}
		if err := tx.Transfer(accts.vault, in.UserVault, in.Amount, t.Address); err != nil {
			return err
		}

		vaultBalance, receiptSupply, err = assertBacking(tx, accts.vault, accts.posMint)
		return err
	})
	if err != nil {
		return nil, fromLedger(err)
	}

	p.observe(t, vaultBalance, receiptSupply, "Redeem", batch)
	return &Receipt{
		Batch:    batch,
		Treasury: t,
		Events: []Event{&Claimed{
			Treasury:      t.Address,
			User:          in.User,
			UserVault:     in.UserVault,
			UserPosVault:  accts.userPosVault,
			Amount:        in.Amount,
			VaultBalance:  vaultBalance,
			ReceiptSupply: receiptSupply,
		}},
	}, nil
}
