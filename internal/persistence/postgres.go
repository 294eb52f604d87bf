package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"SettleLedger/internal/errs"
	"SettleLedger/internal/exposure"
	"SettleLedger/internal/ledger"
)

// PostgresStore is the production Store. The exclusive per-account lock is a
// blocking row lock (SELECT ... FOR UPDATE) on settle.accounts held for the
// duration of the transaction, so all capital/exposure mutations for one
// account serialize while other accounts proceed.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (ps *PostgresStore) CreateAccount(ctx context.Context, a *ledger.Account) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO settle.accounts
			(id, client, exchange, owner_share_pct, counter_share_pct, precision,
			 cached_capital, withdrawn_total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Client, a.Exchange, a.OwnerPct, a.CounterPct, a.Precision,
		a.CachedCapital, a.WithdrawnTotal, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return scanAccount(ps.db.QueryRowContext(ctx, accountSelect+` WHERE id = $1`, id))
}

func (ps *PostgresStore) WithAccount(ctx context.Context, id uuid.UUID, fn func(Tx) error) error {
	dbTx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	// Blocking exclusive lock on the account row. Everything after this line
	// is serialized per account until commit or rollback.
	account, err := scanAccount(dbTx.QueryRowContext(ctx,
		accountSelect+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		dbTx.Rollback()
		return err
	}

	tx := &pgTx{ctx: ctx, tx: dbTx, accountID: id, account: account}
	if err := fn(tx); err != nil {
		dbTx.Rollback()
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const accountSelect = `
	SELECT id, client, exchange, owner_share_pct, counter_share_pct, precision,
	       cached_capital, withdrawn_total, created_at, updated_at
	FROM settle.accounts`

func scanAccount(row *sql.Row) (*ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(
		&a.ID, &a.Client, &a.Exchange, &a.OwnerPct, &a.CounterPct, &a.Precision,
		&a.CachedCapital, &a.WithdrawnTotal, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

// pgTx is an account-scoped transaction over the locked account row.
type pgTx struct {
	ctx       context.Context
	tx        *sql.Tx
	accountID uuid.UUID
	account   *ledger.Account
}

func (t *pgTx) Account() (*ledger.Account, error) {
	a := *t.account
	return &a, nil
}

func (t *pgTx) UpdateAccount(a *ledger.Account) error {
	if a.ID != t.accountID {
		return fmt.Errorf("update targets account %s outside transaction scope", a.ID)
	}
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE settle.accounts
		SET owner_share_pct = $2, counter_share_pct = $3, cached_capital = $4,
		    withdrawn_total = $5, updated_at = $6
		WHERE id = $1`,
		a.ID, a.OwnerPct, a.CounterPct, a.CachedCapital, a.WithdrawnTotal, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	cp := *a
	t.account = &cp
	return nil
}

func (t *pgTx) AppendEntry(e ledger.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO settle.ledger_entries (entry_id, account_id, kind, amount, ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.EntryID, t.accountID, e.Kind, e.Amount, e.Ref, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

func (t *pgTx) Entries() ([]ledger.Entry, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT entry_id, account_id, kind, amount, ref, created_at
		FROM settle.ledger_entries
		WHERE account_id = $1
		ORDER BY created_at, entry_id`, t.accountID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.EntryID, &e.AccountID, &e.Kind, &e.Amount, &e.Ref, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *pgTx) InsertObservation(o *exposure.Observation) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO settle.balance_observations
			(id, account_id, reported_balance, effective_balance, capital_at_observation,
			 observed_at, profit_withdrawn, withdrawal_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, t.accountID, o.ReportedBalance, o.EffectiveBalance, o.CapitalAtObservation,
		o.ObservedAt, o.ProfitWithdrawn, nullUUID(o.WithdrawalID),
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateObservation(o *exposure.Observation) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE settle.balance_observations
		SET profit_withdrawn = $2, withdrawal_id = $3
		WHERE id = $1`,
		o.ID, o.ProfitWithdrawn, nullUUID(o.WithdrawalID),
	)
	if err != nil {
		return fmt.Errorf("update observation: %w", err)
	}
	return nil
}

const observationSelect = `
	SELECT id, account_id, reported_balance, effective_balance, capital_at_observation,
	       observed_at, profit_withdrawn, withdrawal_id
	FROM settle.balance_observations`

func (t *pgTx) Observation(id uuid.UUID) (*exposure.Observation, error) {
	return scanObservation(t.tx.QueryRowContext(t.ctx,
		observationSelect+` WHERE id = $1 AND account_id = $2`, id, t.accountID))
}

func (t *pgTx) LatestObservation() (*exposure.Observation, error) {
	return scanObservation(t.tx.QueryRowContext(t.ctx,
		observationSelect+` WHERE account_id = $1 ORDER BY observed_at DESC, id DESC LIMIT 1`,
		t.accountID))
}

func scanObservation(row *sql.Row) (*exposure.Observation, error) {
	var o exposure.Observation
	var wid uuid.NullUUID
	err := row.Scan(
		&o.ID, &o.AccountID, &o.ReportedBalance, &o.EffectiveBalance, &o.CapitalAtObservation,
		&o.ObservedAt, &o.ProfitWithdrawn, &wid,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan observation: %w", err)
	}
	if wid.Valid {
		id := wid.UUID
		o.WithdrawalID = &id
	}
	return &o, nil
}

func (t *pgTx) InsertSnapshot(s *exposure.Snapshot) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO settle.exposure_snapshots
			(id, account_id, observation_id, kind, amount, owner_share_pct,
			 counter_share_pct, state, close_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, t.accountID, s.ObservationID, s.Kind, s.Amount, s.OwnerPct,
		s.CounterPct, s.State, s.CloseReason, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateSnapshot(s *exposure.Snapshot) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE settle.exposure_snapshots
		SET amount = $2, state = $3, close_reason = $4, updated_at = $5
		WHERE id = $1`,
		s.ID, s.Amount, s.State, s.CloseReason, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	return nil
}

const snapshotSelect = `
	SELECT id, account_id, observation_id, kind, amount, owner_share_pct,
	       counter_share_pct, state, close_reason, created_at, updated_at
	FROM settle.exposure_snapshots`

func (t *pgTx) Snapshot(id uuid.UUID) (*exposure.Snapshot, error) {
	snaps, err := t.querySnapshots(snapshotSelect+` WHERE id = $1 AND account_id = $2`, id, t.accountID)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return snaps[0], nil
}

func (t *pgTx) OpenSnapshot() (*exposure.Snapshot, error) {
	open, err := t.OpenSnapshots()
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}
	return open[0], nil
}

func (t *pgTx) OpenSnapshots() ([]*exposure.Snapshot, error) {
	return t.querySnapshots(
		snapshotSelect+` WHERE account_id = $1 AND state <> $2 ORDER BY created_at`,
		t.accountID, exposure.StateClosed)
}

func (t *pgTx) querySnapshots(query string, args ...interface{}) ([]*exposure.Snapshot, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*exposure.Snapshot
	for rows.Next() {
		var s exposure.Snapshot
		if err := rows.Scan(
			&s.ID, &s.AccountID, &s.ObservationID, &s.Kind, &s.Amount, &s.OwnerPct,
			&s.CounterPct, &s.State, &s.CloseReason, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, &s)
	}
	return snaps, rows.Err()
}

func (t *pgTx) InsertSettlement(s ledger.Settlement) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO settle.settlement_events
			(settlement_id, account_id, snapshot_id, observation_id, idempotency_key,
			 payment, capital_closed, owner_amount, counter_amount,
			 remaining_after, closed_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.SettlementID, t.accountID, s.SnapshotID, s.ObservationID, s.Key,
		s.Payment, s.CapitalClosed, s.OwnerAmount, s.CounterAmount,
		s.RemainingAfter, s.ClosedSnapshot, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

const settlementSelect = `
	SELECT settlement_id, account_id, snapshot_id, observation_id, idempotency_key,
	       payment, capital_closed, owner_amount, counter_amount,
	       remaining_after, closed_snapshot, created_at
	FROM settle.settlement_events`

func (t *pgTx) SettlementByKey(key string) (*ledger.Settlement, error) {
	var s ledger.Settlement
	err := t.tx.QueryRowContext(t.ctx,
		settlementSelect+` WHERE idempotency_key = $1 AND account_id = $2`, key, t.accountID,
	).Scan(
		&s.SettlementID, &s.AccountID, &s.SnapshotID, &s.ObservationID, &s.Key,
		&s.Payment, &s.CapitalClosed, &s.OwnerAmount, &s.CounterAmount,
		&s.RemainingAfter, &s.ClosedSnapshot, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan settlement: %w", err)
	}
	return &s, nil
}

func (t *pgTx) Settlements() ([]ledger.Settlement, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		settlementSelect+` WHERE account_id = $1 ORDER BY created_at, settlement_id`, t.accountID)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var out []ledger.Settlement
	for rows.Next() {
		var s ledger.Settlement
		if err := rows.Scan(
			&s.SettlementID, &s.AccountID, &s.SnapshotID, &s.ObservationID, &s.Key,
			&s.Payment, &s.CapitalClosed, &s.OwnerAmount, &s.CounterAmount,
			&s.RemainingAfter, &s.ClosedSnapshot, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
