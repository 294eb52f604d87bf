package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SettleLedger/internal/errs"
	"SettleLedger/internal/exposure"
)

// Account is one (client, exchange) pairing. Share percentages are live
// config: they are copied onto an exposure snapshot at freeze time and may
// only change while no exposure is open.
//
// CachedCapital is a read-through cache of the ledger-derived capital kept
// for lock-free display reads. It is never authoritative; every mutation
// recomputes it from entries and the auditor cross-checks it.
type Account struct {
	ID       uuid.UUID
	Client   string
	Exchange string

	OwnerPct   decimal.Decimal
	CounterPct decimal.Decimal
	Precision  int32

	CachedCapital  decimal.Decimal
	WithdrawnTotal decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Policy returns the account's live share split.
func (a *Account) Policy() exposure.SharePolicy {
	return exposure.SharePolicy{OwnerPct: a.OwnerPct, CounterPct: a.CounterPct}
}

// Validate checks account parameters at creation time.
func (a *Account) Validate() error {
	if a.ID == uuid.Nil {
		return errs.Validationf("account id is required")
	}
	if a.Client == "" || a.Exchange == "" {
		return errs.Validationf("client and exchange names are required")
	}
	if a.Precision < 0 || a.Precision > 8 {
		return errs.Validationf("currency precision must be in [0,8], got %d", a.Precision)
	}
	return a.Policy().Validate()
}
