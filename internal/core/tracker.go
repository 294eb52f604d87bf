package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SettleLedger/internal/errs"
	"SettleLedger/internal/exposure"
	"SettleLedger/internal/ledger"
	"SettleLedger/internal/money"
	"SettleLedger/internal/persistence"
)

// TrackerResult describes what one balance observation did to the account.
type TrackerResult struct {
	ObservationID    uuid.UUID       `json:"observation_id"`
	Capital          decimal.Decimal `json:"capital"`
	EffectiveBalance decimal.Decimal `json:"effective_balance"`
	Loss             decimal.Decimal `json:"loss"`
	Profit           decimal.Decimal `json:"profit"`

	// OpenSnapshotID is set when an exposure snapshot is open after this
	// observation, whether it was frozen now or in an earlier episode.
	OpenSnapshotID *uuid.UUID `json:"open_snapshot_id,omitempty"`
	FrozeSnapshot  bool       `json:"froze_snapshot"`

	// Profit withdrawal outcome, when the observation triggered one.
	WithdrawnProfit decimal.Decimal `json:"withdrawn_profit"`
	WithdrawalID    *uuid.UUID      `json:"withdrawal_id,omitempty"`

	// Duplicate marks a retried observation; the result reflects the
	// already-committed application, nothing was re-applied.
	Duplicate bool `json:"duplicate"`
}

// ObserveBalance ingests one externally reported balance. It derives fresh
// capital, records the immutable observation, and either freezes a LOSS
// snapshot, withdraws PROFIT immediately, or does nothing when capital and
// balance agree. An already-open snapshot is never touched: the frozen
// figure is the contract the counter-party settles against, and only a
// settlement changes it.
func (e *Engine) ObserveBalance(ctx context.Context, accountID, observationID uuid.UUID, reported decimal.Decimal, observedAt time.Time) (*TrackerResult, error) {
	start := e.now()

	if observationID == uuid.Nil {
		err := errs.Validationf("observation id is required")
		e.reject("observe_balance", err)
		return nil, err
	}

	var result *TrackerResult
	err := e.store.WithAccount(ctx, accountID, func(tx persistence.Tx) error {
		// Retried ingestion of the same observation returns the committed
		// outcome instead of re-applying.
		existing, err := tx.Observation(observationID)
		if err != nil {
			return err
		}
		if existing != nil {
			result, err = e.replayObservation(tx, existing)
			return err
		}

		account, err := tx.Account()
		if err != nil {
			return err
		}

		// Observations apply strictly in reporting order. An earlier-dated
		// one would rewrite an already-frozen history.
		latest, err := tx.LatestObservation()
		if err != nil {
			return err
		}
		if latest != nil && !observedAt.After(latest.ObservedAt) {
			e.metrics.ObservationsRejected.WithLabelValues("out_of_order").Inc()
			return errs.Validationf("observation %s dated %s is not after latest observation at %s",
				observationID, observedAt.Format(time.RFC3339Nano), latest.ObservedAt.Format(time.RFC3339Nano))
		}

		entries, err := tx.Entries()
		if err != nil {
			return err
		}
		capital := ledger.Capital(entries)

		// The tracked balance going forward is the reported figure net of
		// everything already withdrawn as profit.
		effective := reported.Sub(account.WithdrawnTotal)

		obs := &exposure.Observation{
			ID:                   observationID,
			AccountID:            accountID,
			ReportedBalance:      reported,
			EffectiveBalance:     effective,
			CapitalAtObservation: capital,
			ObservedAt:           observedAt,
		}
		if err := tx.InsertObservation(obs); err != nil {
			return err
		}

		loss := money.MaxZero(capital.Sub(effective))
		profit := money.MaxZero(effective.Sub(capital))

		result = &TrackerResult{
			ObservationID:    observationID,
			Capital:          capital,
			EffectiveBalance: effective,
			Loss:             loss,
			Profit:           profit,
		}

		open, err := tx.OpenSnapshot()
		if err != nil {
			return err
		}

		switch {
		case open != nil:
			// Frozen exposure stays frozen; trading activity alone never
			// shrinks or grows it.
			id := open.ID
			result.OpenSnapshotID = &id

		case loss.IsPositive():
			snap, err := e.freezeLoss(tx, account, obs, loss)
			if err != nil {
				return err
			}
			id := snap.ID
			result.OpenSnapshotID = &id
			result.FrozeSnapshot = true

		case profit.IsPositive():
			wid, err := e.withdrawProfit(tx, account, obs, capital, profit)
			if err != nil {
				return err
			}
			result.WithdrawnProfit = profit
			result.WithdrawalID = wid
		}

		account.CachedCapital = capital
		account.UpdatedAt = e.now()
		if err := tx.UpdateAccount(account); err != nil {
			return err
		}

		return e.audit(tx)
	})
	if err != nil {
		e.reject("observe_balance", err)
		return nil, err
	}

	// Counters move only after the transaction has committed.
	if !result.Duplicate {
		e.metrics.ObservationsIngested.Inc()
		if result.FrozeSnapshot {
			e.metrics.SnapshotsOpened.WithLabelValues(exposure.KindLoss.String()).Inc()
		}
		if result.WithdrawnProfit.IsPositive() {
			e.metrics.ProfitWithdrawn.Inc()
			e.metrics.SnapshotsOpened.WithLabelValues(exposure.KindProfit.String()).Inc()
			e.metrics.SnapshotsClosed.WithLabelValues(
				exposure.KindProfit.String(), exposure.CloseReasonWithdrawal.String()).Inc()
		}
		e.applied("observe_balance", start)
	}

	return result, nil
}

// freezeLoss materializes a LOSS snapshot with the live share percentages
// copied onto it. From this instant the amount only moves by settlement.
func (e *Engine) freezeLoss(tx persistence.Tx, account *ledger.Account, obs *exposure.Observation, loss decimal.Decimal) (*exposure.Snapshot, error) {
	policy := account.Policy()
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	snap := &exposure.Snapshot{
		ID:            uuid.New(),
		AccountID:     account.ID,
		ObservationID: obs.ID,
		Kind:          exposure.KindLoss,
		Amount:        loss,
		OwnerPct:      policy.OwnerPct,
		CounterPct:    policy.CounterPct,
		State:         exposure.StateOpen,
		CloseReason:   exposure.CloseReasonNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.InsertSnapshot(snap); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("account_id", account.ID.String()).
		Str("snapshot_id", snap.ID.String()).
		Str("amount", loss.String()).
		Msg("loss exposure frozen")

	return snap, nil
}

// withdrawProfit discharges a detected profit immediately and atomically.
// Profit is the broker's own liability, never an outstanding receivable: the
// withdrawal reduces the tracked balance going forward and leaves capital
// untouched. The closed PROFIT snapshot is the historical record of the
// episode.
func (e *Engine) withdrawProfit(tx persistence.Tx, account *ledger.Account, obs *exposure.Observation, capital, profit decimal.Decimal) (*uuid.UUID, error) {
	if obs.ProfitWithdrawn {
		return obs.WithdrawalID, nil
	}

	// Withdrawing more than the divergence would push the tracked balance
	// below capital and manufacture a fake loss.
	if obs.EffectiveBalance.Sub(profit).LessThan(capital) {
		return nil, errs.Validationf("withdrawal of %s would push balance %s below capital %s",
			profit, obs.EffectiveBalance, capital)
	}

	now := e.now()
	wid := uuid.New()
	obs.ProfitWithdrawn = true
	obs.WithdrawalID = &wid
	if err := tx.UpdateObservation(obs); err != nil {
		return nil, err
	}

	policy := account.Policy()
	snap := &exposure.Snapshot{
		ID:            uuid.New(),
		AccountID:     account.ID,
		ObservationID: obs.ID,
		Kind:          exposure.KindProfit,
		Amount:        profit,
		OwnerPct:      policy.OwnerPct,
		CounterPct:    policy.CounterPct,
		State:         exposure.StateClosed,
		CloseReason:   exposure.CloseReasonWithdrawal,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.InsertSnapshot(snap); err != nil {
		return nil, err
	}

	account.WithdrawnTotal = account.WithdrawnTotal.Add(profit)

	e.log.Info().
		Str("account_id", account.ID.String()).
		Str("withdrawal_id", wid.String()).
		Str("amount", profit.String()).
		Msg("profit withdrawn")

	return &wid, nil
}

// replayObservation rebuilds the committed TrackerResult for a duplicate
// observation from what is already stored.
func (e *Engine) replayObservation(tx persistence.Tx, obs *exposure.Observation) (*TrackerResult, error) {
	result := &TrackerResult{
		ObservationID:    obs.ID,
		Capital:          obs.CapitalAtObservation,
		EffectiveBalance: obs.EffectiveBalance,
		Loss:             money.MaxZero(obs.CapitalAtObservation.Sub(obs.EffectiveBalance)),
		Profit:           money.MaxZero(obs.EffectiveBalance.Sub(obs.CapitalAtObservation)),
		Duplicate:        true,
	}

	if obs.ProfitWithdrawn {
		result.WithdrawnProfit = result.Profit
		result.WithdrawalID = obs.WithdrawalID
	}

	open, err := tx.OpenSnapshot()
	if err != nil {
		return nil, err
	}
	if open != nil {
		id := open.ID
		result.OpenSnapshotID = &id
		result.FrozeSnapshot = open.ObservationID == obs.ID
	}

	return result, nil
}
