// Package query provides the read-only surface consumed by the UI and
// report layers. Queries run lock-free against the cached capital value and
// the settle tables, accepting eventual consistency; nothing in here mutates
// state or takes the account lock.
package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"SettleLedger/internal/errs"
	"SettleLedger/internal/exposure"
	"SettleLedger/internal/ledger"
	"SettleLedger/internal/money"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetAccount returns the display view of one account.
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*AccountSummary, error) {
	var a AccountSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client, exchange, owner_share_pct, counter_share_pct, precision,
		       cached_capital, withdrawn_total, created_at, updated_at
		FROM settle.accounts
		WHERE id = $1
	`, accountID).Scan(
		&a.AccountID, &a.Client, &a.Exchange, &a.OwnerPct, &a.CounterPct, &a.Precision,
		&a.Capital, &a.WithdrawnTotal, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errs.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	open, err := s.GetOpenExposure(ctx, accountID)
	if err != nil {
		return nil, err
	}
	a.OpenExposure = open

	return &a, nil
}

// GetCapital returns the cached capital figure for an account.
func (s *Service) GetCapital(ctx context.Context, accountID uuid.UUID) (*CapitalResponse, error) {
	var resp CapitalResponse
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cached_capital, updated_at
		FROM settle.accounts
		WHERE id = $1
	`, accountID).Scan(&resp.AccountID, &resp.Capital, &resp.AsOf)
	if err == sql.ErrNoRows {
		return nil, errs.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOpenExposure returns the account's open exposure snapshot with its
// share-space receivables, or nil when none is open.
func (s *Service) GetOpenExposure(ctx context.Context, accountID uuid.UUID) (*ExposureResponse, error) {
	var (
		r         ExposureResponse
		precision int32
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT es.id, es.observation_id, es.kind, es.amount,
		       es.owner_share_pct, es.counter_share_pct, es.state, es.created_at,
		       a.precision
		FROM settle.exposure_snapshots es
		JOIN settle.accounts a ON a.id = es.account_id
		WHERE es.account_id = $1 AND es.state <> $2
	`, accountID, exposure.StateClosed).Scan(
		&r.SnapshotID, &r.ObservationID, &r.Kind, &r.Amount,
		&r.OwnerPct, &r.CounterPct, &r.State, &r.CreatedAt,
		&precision,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	totalPct := r.OwnerPct.Add(r.CounterPct)
	r.ClientPayable = money.RoundHalfUp(money.CapitalToShare(r.Amount, totalPct), precision)
	r.OwnerReceivable = money.RoundHalfUp(money.CapitalToShare(r.Amount, r.OwnerPct), precision)
	r.CounterReceivable = money.RoundHalfUp(money.CapitalToShare(r.Amount, r.CounterPct), precision)

	return &r, nil
}

// GetLedgerHistory returns ledger entries for an account, newest first, with
// cursor-based pagination on the entry id.
func (s *Service) GetLedgerHistory(ctx context.Context, accountID uuid.UUID, limit int, before *uuid.UUID) ([]LedgerEntryResponse, error) {
	query := `
		SELECT entry_id, kind, amount, ref, created_at
		FROM settle.ledger_entries
		WHERE account_id = $1
	`
	args := []interface{}{accountID}
	argIdx := 2

	if before != nil {
		query += fmt.Sprintf(` AND created_at < (
			SELECT created_at FROM settle.ledger_entries WHERE entry_id = $%d)`, argIdx)
		args = append(args, *before)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntryResponse
	for rows.Next() {
		var e LedgerEntryResponse
		e.AccountID = accountID
		if err := rows.Scan(&e.EntryID, &e.Kind, &e.Amount, &e.Ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetSettlementHistory returns settlement events for an account, newest
// first, with cursor-based pagination.
func (s *Service) GetSettlementHistory(ctx context.Context, accountID uuid.UUID, limit int, before *uuid.UUID) ([]SettlementResponse, error) {
	query := `
		SELECT settlement_id, snapshot_id, observation_id, idempotency_key,
		       payment, capital_closed, owner_amount, counter_amount,
		       remaining_after, closed_snapshot, created_at
		FROM settle.settlement_events
		WHERE account_id = $1
	`
	args := []interface{}{accountID}
	argIdx := 2

	if before != nil {
		query += fmt.Sprintf(` AND created_at < (
			SELECT created_at FROM settle.settlement_events WHERE settlement_id = $%d)`, argIdx)
		args = append(args, *before)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SettlementResponse
	for rows.Next() {
		var r SettlementResponse
		r.AccountID = accountID
		if err := rows.Scan(
			&r.SettlementID, &r.SnapshotID, &r.ObservationID, &r.IdempotencyKey,
			&r.Payment, &r.CapitalClosed, &r.OwnerAmount, &r.CounterAmount,
			&r.RemainingAfter, &r.ClosedSnapshot, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, r)
	}
	return events, rows.Err()
}

// GetObservationHistory returns balance observations for an account, newest
// first.
func (s *Service) GetObservationHistory(ctx context.Context, accountID uuid.UUID, limit int) ([]ObservationResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reported_balance, effective_balance, capital_at_observation,
		       observed_at, profit_withdrawn, withdrawal_id
		FROM settle.balance_observations
		WHERE account_id = $1
		ORDER BY observed_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []ObservationResponse
	for rows.Next() {
		var (
			o   ObservationResponse
			wid uuid.NullUUID
		)
		o.AccountID = accountID
		if err := rows.Scan(
			&o.ObservationID, &o.ReportedBalance, &o.EffectiveBalance,
			&o.CapitalAtObservation, &o.ObservedAt, &o.ProfitWithdrawn, &wid,
		); err != nil {
			return nil, err
		}
		if wid.Valid {
			id := wid.UUID
			o.WithdrawalID = &id
		}
		observations = append(observations, o)
	}
	return observations, rows.Err()
}

// ReconcileCapital re-derives capital for every account from the ledger and
// reports any account whose cache diverged. Operator tooling; the auditor
// should make this report permanently empty.
func (s *Service) ReconcileCapital(ctx context.Context) (*ReconciliationReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.cached_capital,
		       COALESCE(SUM(CASE le.kind WHEN $1 THEN le.amount WHEN $2 THEN -le.amount ELSE 0 END), 0)
		FROM settle.accounts a
		LEFT JOIN settle.ledger_entries le ON le.account_id = a.id
		GROUP BY a.id, a.cached_capital
	`, ledger.EntryFunding, ledger.EntryCapitalClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := &ReconciliationReport{}
	for rows.Next() {
		var d CapitalDivergence
		if err := rows.Scan(&d.AccountID, &d.Cached, &d.Derived); err != nil {
			return nil, err
		}
		report.AccountsChecked++
		if !d.Cached.Equal(d.Derived) {
			report.Divergences = append(report.Divergences, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.Divergences) == 0
	return report, nil
}
