package exposure

import (
	"github.com/shopspring/decimal"

	"SettleLedger/internal/errs"
	"SettleLedger/internal/money"
)

// SharePolicy is the pair of share percentages that splits a settlement
// between the account owner and the counter-party. A non-split account has
// CounterPct = 0. The policy is read from live account config exactly once,
// at snapshot creation, and frozen on the snapshot thereafter.
type SharePolicy struct {
	OwnerPct   decimal.Decimal
	CounterPct decimal.Decimal
}

// Total returns owner + counter-party percentage.
func (p SharePolicy) Total() decimal.Decimal {
	return p.OwnerPct.Add(p.CounterPct)
}

// Validate checks that both percentages are non-negative and that the total
// lies in (0, 100].
func (p SharePolicy) Validate() error {
	if p.OwnerPct.IsNegative() || p.CounterPct.IsNegative() {
		return errs.Validationf("share percentages must be non-negative (owner=%s, counter=%s)",
			p.OwnerPct, p.CounterPct)
	}
	total := p.Total()
	if !total.IsPositive() || total.GreaterThan(money.Hundred) {
		return errs.Validationf("total share percentage must be in (0,100], got %s", total)
	}
	return nil
}

// ClientPayable converts a capital-space exposure amount into the share-space
// amount the counter-party actually owes against it.
func (p SharePolicy) ClientPayable(amount decimal.Decimal) decimal.Decimal {
	return money.CapitalToShare(amount, p.Total())
}
