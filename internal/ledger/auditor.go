package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"SettleLedger/internal/errs"
	"SettleLedger/internal/exposure"
	"SettleLedger/internal/money"
)

// AuditView is the account-scoped read surface the auditor re-derives from.
// The persistence transaction satisfies it, so every check sees exactly the
// state that is about to commit.
type AuditView interface {
	Account() (*Account, error)
	Entries() ([]Entry, error)
	OpenSnapshots() ([]*exposure.Snapshot, error)
	Snapshot(id uuid.UUID) (*exposure.Snapshot, error)
	Observation(id uuid.UUID) (*exposure.Observation, error)
	Settlements() ([]Settlement, error)
}

// Audit re-derives every quantity independently and fails the transaction on
// the first violated check. It runs inside every mutating transaction, before
// commit; a returned error always rolls the whole mutation back.
//
// Checks:
//
//	R-01  cached capital matches sum(FUNDING) - sum(CAPITAL_CLOSED)
//	R-02  sum(CAPITAL_CLOSED) <= sum(FUNDING)
//	R-03  at most one open exposure snapshot
//	R-04  an open LOSS snapshot implies capital > balance-at-snapshot
//	R-05  open snapshot amount matches the ledger-derived divergence (within epsilon)
//	R-06  every settlement's owner + counter share equals its share-space total exactly
func Audit(v AuditView) error {
	account, err := v.Account()
	if err != nil {
		return fmt.Errorf("audit: load account: %w", err)
	}

	entries, err := v.Entries()
	if err != nil {
		return fmt.Errorf("audit: load entries: %w", err)
	}

	funded, closed := Sums(entries)
	derived := funded.Sub(closed)

	// R-01: the cache is allowed to lag reads, never writes.
	if !money.WithinEpsilon(account.CachedCapital, derived) {
		return errs.Invariantf("R-01", "account %s cached capital %s diverges from derived %s",
			account.ID, account.CachedCapital, derived)
	}

	// R-02: capital never goes negative.
	if closed.GreaterThan(funded.Add(money.Epsilon)) {
		return errs.Invariantf("R-02", "account %s closed %s exceeds funded %s",
			account.ID, closed, funded)
	}

	open, err := v.OpenSnapshots()
	if err != nil {
		return fmt.Errorf("audit: load open snapshots: %w", err)
	}

	// R-03: single open exposure per account.
	if len(open) > 1 {
		return errs.Invariantf("R-03", "account %s has %d open exposure snapshots", account.ID, len(open))
	}

	if len(open) == 1 {
		snap := open[0]

		obs, err := v.Observation(snap.ObservationID)
		if err != nil {
			return fmt.Errorf("audit: load observation %s: %w", snap.ObservationID, err)
		}
		if obs == nil {
			return errs.Invariantf("R-05", "snapshot %s references missing observation %s",
				snap.ID, snap.ObservationID)
		}

		// R-04: an open loss only exists while capital exceeds the frozen balance.
		if snap.Kind == exposure.KindLoss && derived.LessThanOrEqual(obs.EffectiveBalance) {
			return errs.Invariantf("R-04", "open loss snapshot %s but capital %s <= balance %s",
				snap.ID, derived, obs.EffectiveBalance)
		}

		// R-05: the frozen amount and the ledger never silently diverge. Both
		// shrink by the same capital-closed figure on every settlement.
		expect := money.MaxZero(derived.Sub(obs.EffectiveBalance))
		if !money.WithinEpsilon(snap.Amount, expect) {
			return errs.Invariantf("R-05", "snapshot %s amount %s diverges from ledger-derived %s",
				snap.ID, snap.Amount, expect)
		}
	}

	settlements, err := v.Settlements()
	if err != nil {
		return fmt.Errorf("audit: load settlements: %w", err)
	}

	// R-06: share conservation is exact, no residual cent lost or gained.
	for _, s := range settlements {
		snap, err := v.Snapshot(s.SnapshotID)
		if err != nil {
			return fmt.Errorf("audit: load snapshot %s: %w", s.SnapshotID, err)
		}
		if snap == nil {
			return errs.Invariantf("R-06", "settlement %s references missing snapshot %s",
				s.SettlementID, s.SnapshotID)
		}

		total := money.RoundHalfUp(
			money.CapitalToShare(s.CapitalClosed, snap.Policy().Total()),
			account.Precision,
		)
		if !s.OwnerAmount.Add(s.CounterAmount).Equal(total) {
			return errs.Invariantf("R-06", "settlement %s owner %s + counter %s != %s",
				s.SettlementID, s.OwnerAmount, s.CounterAmount, total)
		}
	}

	return nil
}
