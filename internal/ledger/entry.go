package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind discriminates the two kinds of ledger entries.
type EntryKind int32

const (
	EntryFunding       EntryKind = iota + 1 // capital entrusted to the account
	EntryCapitalClosed                      // capital paid down by a settlement
)

func (k EntryKind) String() string {
	switch k {
	case EntryFunding:
		return "Funding"
	case EntryCapitalClosed:
		return "CapitalClosed"
	default:
		return "Unknown"
	}
}

// Entry is one immutable, append-only ledger record. Capital is never stored
// as a writable fact; it is always the sum over these entries.
type Entry struct {
	EntryID   uuid.UUID
	AccountID uuid.UUID
	Kind      EntryKind
	Amount    decimal.Decimal // always positive
	Ref       string          // source reference: funding request id or settlement key
	CreatedAt time.Time
}

// Validate ensures the entry is well-formed before it is appended.
func (e Entry) Validate() error {
	if !e.Amount.IsPositive() {
		return fmt.Errorf("entry %s has non-positive amount %s", e.EntryID, e.Amount)
	}
	if e.Kind != EntryFunding && e.Kind != EntryCapitalClosed {
		return fmt.Errorf("entry %s has unknown kind %d", e.EntryID, e.Kind)
	}
	return nil
}

// Capital derives the capital-at-risk figure from a full entry history:
// sum(FUNDING) - sum(CAPITAL_CLOSED). Application order within the slice is
// irrelevant.
func Capital(entries []Entry) decimal.Decimal {
	capital := decimal.Zero
	for _, e := range entries {
		switch e.Kind {
		case EntryFunding:
			capital = capital.Add(e.Amount)
		case EntryCapitalClosed:
			capital = capital.Sub(e.Amount)
		}
	}
	return capital
}

// Sums returns the two per-kind totals, used by the auditor.
func Sums(entries []Entry) (funded, closed decimal.Decimal) {
	funded, closed = decimal.Zero, decimal.Zero
	for _, e := range entries {
		switch e.Kind {
		case EntryFunding:
			funded = funded.Add(e.Amount)
		case EntryCapitalClosed:
			closed = closed.Add(e.Amount)
		}
	}
	return funded, closed
}
