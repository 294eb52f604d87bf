// Package core implements the reconciliation and settlement engine: capital
// derivation over the funding ledger, exposure freezing on balance
// divergence, payment settlement in share space, and the invariant audit
// that gates every commit.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"SettleLedger/internal/errs"
	"SettleLedger/internal/exposure"
	"SettleLedger/internal/ledger"
	"SettleLedger/internal/money"
	"SettleLedger/internal/observability"
	"SettleLedger/internal/persistence"
)

// Engine is the mutation surface of the settlement engine. Every mutating
// operation runs inside a single account-locked transaction: the auditor
// re-checks all invariants before commit, and any failure rolls the whole
// operation back.
type Engine struct {
	store   persistence.Store
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewEngine(store persistence.Store, metrics *observability.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// WithClock overrides the engine's time source, used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CreateAccount registers a new (client, exchange) pairing with its share
// policy and currency precision.
func (e *Engine) CreateAccount(ctx context.Context, client, exchange string, policy exposure.SharePolicy, precision int32) (*ledger.Account, error) {
	now := e.now()
	account := &ledger.Account{
		ID:             uuid.New(),
		Client:         client,
		Exchange:       exchange,
		OwnerPct:       policy.OwnerPct,
		CounterPct:     policy.CounterPct,
		Precision:      precision,
		CachedCapital:  decimal.Zero,
		WithdrawnTotal: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := account.Validate(); err != nil {
		e.reject("create_account", err)
		return nil, err
	}

	if err := e.store.CreateAccount(ctx, account); err != nil {
		e.reject("create_account", err)
		return nil, err
	}

	e.applied("create_account", now)
	e.log.Info().
		Str("account_id", account.ID.String()).
		Str("client", client).
		Str("exchange", exchange).
		Msg("account created")

	return account, nil
}

// UpdateShares changes the live share policy. Rejected while an exposure is
// open: the open snapshot carries frozen percentages, and changing the live
// config underneath it would make the next episode ambiguous.
func (e *Engine) UpdateShares(ctx context.Context, accountID uuid.UUID, policy exposure.SharePolicy) error {
	start := e.now()

	if err := policy.Validate(); err != nil {
		e.reject("update_shares", err)
		return err
	}

	err := e.store.WithAccount(ctx, accountID, func(tx persistence.Tx) error {
		open, err := tx.OpenSnapshot()
		if err != nil {
			return err
		}
		if open != nil {
			return errs.Validationf("share percentages are frozen while exposure snapshot %s is open", open.ID)
		}

		account, err := tx.Account()
		if err != nil {
			return err
		}
		account.OwnerPct = policy.OwnerPct
		account.CounterPct = policy.CounterPct
		account.UpdatedAt = e.now()
		if err := tx.UpdateAccount(account); err != nil {
			return err
		}

		return e.audit(tx)
	})
	if err != nil {
		e.reject("update_shares", err)
		return err
	}

	e.applied("update_shares", start)
	return nil
}

// RecordFunding appends a FUNDING entry and returns the new derived capital.
// Rejected for non-positive amounts and while an exposure is open, so new
// capital is never conflated with an unsettled divergence.
func (e *Engine) RecordFunding(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	start := e.now()

	if !amount.IsPositive() {
		err := errs.Validationf("funding amount must be positive, got %s", amount)
		e.reject("record_funding", err)
		return decimal.Zero, err
	}

	var newCapital decimal.Decimal
	err := e.store.WithAccount(ctx, accountID, func(tx persistence.Tx) error {
		open, err := tx.OpenSnapshot()
		if err != nil {
			return err
		}
		if open != nil {
			return errs.Validationf("funding rejected: exposure snapshot %s is open", open.ID)
		}

		account, err := tx.Account()
		if err != nil {
			return err
		}

		if err := tx.AppendEntry(ledger.Entry{
			EntryID:   uuid.New(),
			AccountID: accountID,
			Kind:      ledger.EntryFunding,
			Amount:    amount,
			Ref:       ref,
			CreatedAt: e.now(),
		}); err != nil {
			return err
		}

		entries, err := tx.Entries()
		if err != nil {
			return err
		}
		newCapital = ledger.Capital(entries)

		account.CachedCapital = newCapital
		account.UpdatedAt = e.now()
		if err := tx.UpdateAccount(account); err != nil {
			return err
		}

		return e.audit(tx)
	})
	if err != nil {
		e.reject("record_funding", err)
		return decimal.Zero, err
	}

	e.applied("record_funding", start)
	e.log.Info().
		Str("account_id", accountID.String()).
		Str("amount", amount.String()).
		Str("capital", newCapital.String()).
		Msg("funding recorded")

	return newCapital, nil
}

// Capital returns the cached capital figure for display reads. The cache is
// recomputed on every mutation; use RepairCapital to force a fresh
// derivation under the account lock.
func (e *Engine) Capital(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.CachedCapital, nil
}

// RepairCapital recomputes the cached capital from the full entry history
// under the account lock and returns the derived value.
func (e *Engine) RepairCapital(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	start := e.now()

	var derived decimal.Decimal
	err := e.store.WithAccount(ctx, accountID, func(tx persistence.Tx) error {
		account, err := tx.Account()
		if err != nil {
			return err
		}
		entries, err := tx.Entries()
		if err != nil {
			return err
		}
		derived = ledger.Capital(entries)

		if account.CachedCapital.Equal(derived) {
			return nil
		}

		e.log.Warn().
			Str("account_id", accountID.String()).
			Str("cached", account.CachedCapital.String()).
			Str("derived", derived.String()).
			Msg("cached capital repaired")

		account.CachedCapital = derived
		account.UpdatedAt = e.now()
		return tx.UpdateAccount(account)
	})
	if err != nil {
		e.reject("repair_capital", err)
		return decimal.Zero, err
	}

	e.applied("repair_capital", start)
	return derived, nil
}

// ExposureView is the read model of an open exposure: the frozen amount plus
// the share-space receivables derived from it.
type ExposureView struct {
	SnapshotID        uuid.UUID
	ObservationID     uuid.UUID
	Kind              exposure.Kind
	Amount            decimal.Decimal
	State             exposure.State
	ClientPayable     decimal.Decimal
	OwnerReceivable   decimal.Decimal
	CounterReceivable decimal.Decimal
}

// OpenExposure returns the account's open exposure, or nil when none exists.
func (e *Engine) OpenExposure(ctx context.Context, accountID uuid.UUID) (*ExposureView, error) {
	var view *ExposureView
	err := e.store.WithAccount(ctx, accountID, func(tx persistence.Tx) error {
		account, err := tx.Account()
		if err != nil {
			return err
		}
		snap, err := tx.OpenSnapshot()
		if err != nil {
			return err
		}
		if snap == nil {
			return nil
		}
		view = newExposureView(snap, account.Precision)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func newExposureView(snap *exposure.Snapshot, precision int32) *ExposureView {
	policy := snap.Policy()
	return &ExposureView{
		SnapshotID:        snap.ID,
		ObservationID:     snap.ObservationID,
		Kind:              snap.Kind,
		Amount:            snap.Amount,
		State:             snap.State,
		ClientPayable:     money.RoundHalfUp(policy.ClientPayable(snap.Amount), precision),
		OwnerReceivable:   money.RoundHalfUp(money.CapitalToShare(snap.Amount, policy.OwnerPct), precision),
		CounterReceivable: money.RoundHalfUp(money.CapitalToShare(snap.Amount, policy.CounterPct), precision),
	}
}

// InvalidateExposure closes an open snapshot without payment, for operator
// correction of a freeze that should never have happened. The ledger is not
// touched; the next balance observation re-derives the divergence fresh.
func (e *Engine) InvalidateExposure(ctx context.Context, accountID, snapshotID uuid.UUID) error {
	start := e.now()

	var closedKind exposure.Kind
	err := e.store.WithAccount(ctx, accountID, func(tx persistence.Tx) error {
		snap, err := tx.OpenSnapshot()
		if err != nil {
			return err
		}
		if snap == nil {
			return errs.Validationf("no open exposure for account %s", accountID)
		}
		if snap.ID != snapshotID {
			return errs.Validationf("snapshot %s is not the open exposure (open: %s)", snapshotID, snap.ID)
		}
		if !snap.State.CanTransitionTo(exposure.StateClosed) {
			return errs.Validationf("snapshot %s cannot close from state %s", snap.ID, snap.State)
		}

		snap.State = exposure.StateClosed
		snap.CloseReason = exposure.CloseReasonInvalidated
		snap.UpdatedAt = e.now()
		if err := tx.UpdateSnapshot(snap); err != nil {
			return err
		}

		closedKind = snap.Kind
		return e.audit(tx)
	})
	if err != nil {
		e.reject("invalidate_exposure", err)
		return err
	}

	e.metrics.SnapshotsClosed.WithLabelValues(closedKind.String(), exposure.CloseReasonInvalidated.String()).Inc()
	e.applied("invalidate_exposure", start)
	e.log.Warn().
		Str("account_id", accountID.String()).
		Str("snapshot_id", snapshotID.String()).
		Msg("exposure snapshot invalidated")

	return nil
}

// audit runs the invariant checks against the transaction's pending state
// and records any violation before surfacing it.
func (e *Engine) audit(tx persistence.Tx) error {
	if err := ledger.Audit(tx); err != nil {
		var iv *errs.Invariant
		if errors.As(err, &iv) {
			e.metrics.InvariantViolations.WithLabelValues(iv.Check).Inc()
			e.log.Error().
				Str("check", iv.Check).
				Str("detail", iv.Detail).
				Msg("invariant violated, transaction aborted")
		}
		return err
	}
	return nil
}

func (e *Engine) applied(op string, start time.Time) {
	e.metrics.OpsApplied.WithLabelValues(op).Inc()
	e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (e *Engine) reject(op string, err error) {
	e.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
}

func rejectReason(err error) string {
	switch {
	case errs.IsValidation(err):
		return "validation"
	case errs.IsInvariant(err):
		return "invariant"
	case errors.Is(err, errs.ErrAccountNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
