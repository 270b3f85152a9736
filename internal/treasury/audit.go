package treasury

import (
	"TreasuryLedger/internal/ledger"
	"errors"
)

// Auditor exposes the committed account set and its invariant checks.
type Auditor interface {
	Snapshot() []ledger.Account
	Validator() *ledger.InvariantValidator
}

// Audit re-checks every treasury of this program against the committed
// state: the stored record must match its derivation and the vault must
// hold exactly the receipt supply. All failures are reported together.
func (p *Program) Audit(a Auditor) error {
	var errs []error
	for _, acct := range a.Snapshot() {
		if acct.Kind != ledger.KindData || !acct.Owner.Equals(p.id) {
			continue
		}
		t, err := p.GetTreasury(acct.Address)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := a.Validator().ValidateBacking(t.TreasuryVault, t.PosMint); err != nil {
			errs = append(errs, &Error{Code: CodeInvariantViolation, Msg: "treasury " + t.Address.String(), Err: err})
		}
	}
	return errors.Join(errs...)
}
