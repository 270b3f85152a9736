package treasury

import (
	"TreasuryLedger/internal/event"
	"TreasuryLedger/internal/ledger"
	fpmath "TreasuryLedger/internal/math"
	"context"

	"github.com/gagliardetto/solana-go"
)

// Stake moves Amount of the treasury mint from the user's vault into the
// treasury vault and mints the same amount of receipts to the user. The
// user's receipt vault is allocated on first stake, rent paid by the user.
func (p *Program) Stake(ctx context.Context, in *event.Stake) (*Receipt, error) {
	receipt, err := p.stake(ctx, in)
	if err != nil {
		p.logRejected("stake", positionFields(&in.Position), err)
		return nil, err
	}
	ev := receipt.Events[0].(*Deposited)
	p.logger.Info().
		Str("treasury", ev.Treasury.String()).
		Str("user", ev.User.String()).
		Uint64("amount", ev.Amount).
		Uint64("vault_balance", ev.VaultBalance).
		Uint64("rent_paid", ev.RentPaid).
		Int64("sequence", receipt.Batch.Sequence).
		Msg("stake applied")
	return receipt, nil
}

func (p *Program) stake(ctx context.Context, in *event.Stake) (*Receipt, error) {
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
		Writable: []solana.PublicKey{in.User, in.UserVault, accts.vault, accts.posMint, accts.userPosVault},
		Readonly: []solana.PublicKey{t.Address},
		Signers:  []solana.PublicKey{in.User, t.Address},
	}

	var vaultBalance, receiptSupply uint64
	batch, err := p.ledger.Execute(ctx, in.IdempotencyKey(), access, func(tx *ledger.Tx) error {
		attest(tx, in)
		src, ok, err := tx.Account(in.UserVault)
		if err != nil {
			return err
		}
		if !ok {
			return errorf(CodeNotFound, "user vault %s not found", in.UserVault)
		}
		if src.Kind != ledger.KindToken {
			return errorf(CodeInvalidAsset, "user vault %s is not a token account", in.UserVault)
		}
		if !src.Owner.Equals(in.User) {
			return errorf(CodeUnauthorized, "user vault %s is owned by %s", in.UserVault, src.Owner)
		}
		if !src.Mint.Equals(t.TreasuryMint) {
			return errorf(CodeInvalidAsset, "user vault holds %s, treasury takes %s", src.Mint, t.TreasuryMint)
		}
		if src.Amount < in.Amount {
			return errorf(CodeInsufficientFunds, "user vault has %d, stake needs %d", src.Amount, in.Amount)
		}
		held, err := tx.Balance(accts.vault)
		if err != nil {
			return err
		}
		if _, ok := fpmath.CheckedAdd(held, in.Amount); !ok {
			return errorf(CodeArithmeticOverflow, "treasury vault balance %d + %d overflows", held, in.Amount)
		}

		if err := tx.Transfer(in.UserVault, accts.vault, in.Amount, in.User); err != nil {
			return err
		}

		pos, exists, err := tx.Account(accts.userPosVault)
		if err != nil {
			return err
		}
		if !exists {
			if err := tx.CreateTokenAccount(in.User, accts.userPosVault, accts.posMint, in.User); err != nil {
				return err
			}
		} else if pos.Kind != ledger.KindToken || !pos.Owner.Equals(in.User) || !pos.Mint.Equals(accts.posMint) {
			return errorf(CodeAccountMismatch, "user receipt vault %s is not a %s account of %s", accts.userPosVault, accts.posMint, in.User)
		}

		if err := tx.MintTo(accts.posMint, accts.userPosVault, in.Amount, t.Address); err != nil {
			return err
		}

		vaultBalance, receiptSupply, err = assertBacking(tx, accts.vault, accts.posMint)
		return err
	})
	if err != nil {
		return nil, fromLedger(err)
	}

	p.observe(t, vaultBalance, receiptSupply, "Stake", batch)
	return &Receipt{
		Batch:    batch,
		Treasury: t,
		Events: []Event{&Deposited{
			Treasury:      t.Address,
			User:          in.User,
			UserVault:     in.UserVault,
			UserPosVault:  accts.userPosVault,
			Amount:        in.Amount,
			VaultBalance:  vaultBalance,
			ReceiptSupply: receiptSupply,
			RentPaid:      rentPaid(batch),
		}},
	}, nil
}

func positionFields(pos *event.Position) map[string]string {
	return map[string]string{
		"treasury": pos.Treasury.String(),
		"user":     pos.User.String(),
		"amount":   amountField(pos.Amount),
	}
}
