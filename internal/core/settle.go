package core

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SettleLedger/internal/errs"
	"SettleLedger/internal/exposure"
	"SettleLedger/internal/ledger"
	"SettleLedger/internal/money"
	"SettleLedger/internal/persistence"
)

// SettleResult is the committed outcome of one settlement request. A
// duplicate request returns the prior outcome with Duplicate set.
type SettleResult struct {
	SettlementID  uuid.UUID       `json:"settlement_id"`
	Payment       decimal.Decimal `json:"payment"`
	CapitalClosed decimal.Decimal `json:"capital_closed"`
	OwnerAmount   decimal.Decimal `json:"owner_amount"`
	CounterAmount decimal.Decimal `json:"counter_amount"`
	Remaining     decimal.Decimal `json:"remaining"`
	Settled       bool            `json:"settled"`
	Duplicate     bool            `json:"duplicate"`
}

// Settle applies a share-space payment against the account's open exposure
// snapshot.
//
// The pipeline: payment normalization, idempotency lookup, frozen-state
// load, share-space
// validation against clientPayable, conversion to capital space on the
// unrounded value, a single round to the currency's minor unit, exposure
// reduction with exact auto-close, residual-safe share split, then one
// atomic persist of ledger entry + settlement event + snapshot update,
// gated by the invariant audit.
func (e *Engine) Settle(ctx context.Context, accountID, snapshotID, observationID uuid.UUID, payment decimal.Decimal) (*SettleResult, error) {
	start := e.now()

	var result *SettleResult
	err := e.store.WithAccount(ctx, accountID, func(tx persistence.Tx) error {
		account, err := tx.Account()
		if err != nil {
			return err
		}

		// Settlements happen in the currency's minor unit: the submitted
		// payment is normalized to the account precision once, and the
		// idempotency key and the capital conversion both use the
		// normalized figure. Sub-precision digits can never make two
		// requests with one key compute different outcomes.
		payment = money.RoundHalfUp(payment, account.Precision)

		key := SettlementKey(accountID, snapshotID, observationID, payment, account.Precision)

		prior, err := tx.SettlementByKey(key)
		if err != nil {
			return err
		}
		if prior != nil {
			result = &SettleResult{
				SettlementID:  prior.SettlementID,
				Payment:       prior.Payment,
				CapitalClosed: prior.CapitalClosed,
				OwnerAmount:   prior.OwnerAmount,
				CounterAmount: prior.CounterAmount,
				Remaining:     prior.RemainingAfter,
				Settled:       prior.ClosedSnapshot,
				Duplicate:     true,
			}
			return nil
		}

		if !payment.IsPositive() {
			return errs.Validationf("payment must be positive, got %s", payment)
		}

		snap, err := tx.OpenSnapshot()
		if err != nil {
			return err
		}
		if snap == nil {
			return errs.Validationf("no open exposure for account %s", accountID)
		}
		if snap.ID != snapshotID {
			return errs.Validationf("snapshot %s is stale (open exposure is %s), refetch and retry",
				snapshotID, snap.ID)
		}
		if snap.ObservationID != observationID {
			return errs.Validationf("observation %s does not match snapshot %s (expected %s)",
				observationID, snap.ID, snap.ObservationID)
		}

		policy := snap.Policy()
		if err := policy.Validate(); err != nil {
			return err
		}
		totalPct := policy.Total()

		clientPayable := policy.ClientPayable(snap.Amount)
		if payment.GreaterThan(clientPayable) {
			return errs.Validationf("payment %s exceeds payable %s", payment, clientPayable)
		}

		// Capital-space conversion is validated unrounded so a rounding
		// artifact can never reject a legitimate full payment.
		capitalClosedRaw := money.ShareToCapital(payment, totalPct)
		if capitalClosedRaw.GreaterThan(snap.Amount) {
			return errs.Validationf("capital closed %s exceeds exposure %s", capitalClosedRaw, snap.Amount)
		}

		// The single capital-space rounding point of the pipeline.
		capitalClosed := money.RoundHalfUp(capitalClosedRaw, account.Precision)

		newAmount := snap.Amount.Sub(capitalClosed)
		if newAmount.IsNegative() {
			return errs.Validationf("payment would overdraw exposure: %s - %s", snap.Amount, capitalClosed)
		}

		// Auto-close: a remainder below the threshold closes the episode by
		// settling the pre-payment amount exactly, not by rounding it away.
		closed := false
		if newAmount.LessThan(money.AutoCloseThreshold) {
			capitalClosed = snap.Amount
			newAmount = decimal.Zero
			closed = true
		}

		// Share split. The counter-party side is rounded and the owner side
		// takes the remainder, so the two always sum to the share-space
		// total exactly.
		shareTotal := money.RoundHalfUp(money.CapitalToShare(capitalClosed, totalPct), account.Precision)
		counterAmount := money.RoundHalfUp(money.CapitalToShare(capitalClosed, policy.CounterPct), account.Precision)
		ownerAmount := shareTotal.Sub(counterAmount)

		next := exposure.StatePartiallySettled
		if closed {
			next = exposure.StateClosed
		}
		if !snap.State.CanTransitionTo(next) {
			return errs.Validationf("snapshot %s cannot transition %s -> %s", snap.ID, snap.State, next)
		}

		now := e.now()

		if err := tx.AppendEntry(ledger.Entry{
			EntryID:   uuid.New(),
			AccountID: accountID,
			Kind:      ledger.EntryCapitalClosed,
			Amount:    capitalClosed,
			Ref:       key,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		settlement := ledger.Settlement{
			SettlementID:   uuid.New(),
			AccountID:      accountID,
			SnapshotID:     snap.ID,
			ObservationID:  observationID,
			Key:            key,
			Payment:        payment,
			CapitalClosed:  capitalClosed,
			OwnerAmount:    ownerAmount,
			CounterAmount:  counterAmount,
			RemainingAfter: newAmount,
			ClosedSnapshot: closed,
			CreatedAt:      now,
		}
		if err := tx.InsertSettlement(settlement); err != nil {
			return err
		}

		snap.Amount = newAmount
		snap.State = next
		if closed {
			snap.CloseReason = exposure.CloseReasonPayment
		}
		snap.UpdatedAt = now
		if err := tx.UpdateSnapshot(snap); err != nil {
			return err
		}

		entries, err := tx.Entries()
		if err != nil {
			return err
		}
		account.CachedCapital = ledger.Capital(entries)
		account.UpdatedAt = now
		if err := tx.UpdateAccount(account); err != nil {
			return err
		}

		if err := e.audit(tx); err != nil {
			return err
		}

		result = &SettleResult{
			SettlementID:  settlement.SettlementID,
			Payment:       payment,
			CapitalClosed: capitalClosed,
			OwnerAmount:   ownerAmount,
			CounterAmount: counterAmount,
			Remaining:     newAmount,
			Settled:       closed,
		}
		return nil
	})
	if err != nil {
		e.reject("settle", err)
		return nil, err
	}

	// Counters move only after the transaction has committed; an aborted or
	// failed commit must not show up as applied work.
	if result.Duplicate {
		e.metrics.SettlementDuplicates.Inc()
	} else {
		e.metrics.SettlementsApplied.Inc()
		if result.Settled {
			e.metrics.SnapshotsClosed.WithLabelValues(
				exposure.KindLoss.String(), exposure.CloseReasonPayment.String()).Inc()
		}
		e.applied("settle", start)
		e.log.Info().
			Str("account_id", accountID.String()).
			Str("snapshot_id", snapshotID.String()).
			Str("payment", payment.String()).
			Str("capital_closed", result.CapitalClosed.String()).
			Str("remaining", result.Remaining.String()).
			Bool("settled", result.Settled).
			Msg("settlement applied")
	}

	return result, nil
}
