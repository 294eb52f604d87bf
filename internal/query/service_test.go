package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SettleLedger/internal/exposure"
	"SettleLedger/internal/ledger"
	"SettleLedger/internal/observability"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/query"
	"SettleLedger/internal/testutil"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seedAccount writes a funded account with one closed and one open loss
// snapshot through the persistence layer, so the queries read exactly what
// the engine would have committed.
func seedAccount(t *testing.T) (*query.Service, uuid.UUID, uuid.UUID) {
	t.Helper()

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := persistence.NewMigrator(db, "../../migrations", observability.NewLogger("migrate-test"))
	if err := migrator.Up(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	store := persistence.NewPostgresStore(db)

	account := &ledger.Account{
		ID:             uuid.New(),
		Client:         "acme",
		Exchange:       "nyx",
		OwnerPct:       d("1"),
		CounterPct:     d("9"),
		Precision:      2,
		CachedCapital:  decimal.Zero,
		WithdrawnTotal: decimal.Zero,
	}
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	openID := uuid.New()
	err := store.WithAccount(ctx, account.ID, func(tx persistence.Tx) error {
		now := time.Now().UTC()
		if err := tx.AppendEntry(ledger.Entry{
			EntryID:   uuid.New(),
			AccountID: account.ID,
			Kind:      ledger.EntryFunding,
			Amount:    d("100"),
			Ref:       "wire-1",
			CreatedAt: now,
		}); err != nil {
			return err
		}

		obsID := uuid.New()
		if err := tx.InsertObservation(&exposure.Observation{
			ID:                   obsID,
			AccountID:            account.ID,
			ReportedBalance:      d("40"),
			EffectiveBalance:     d("40"),
			CapitalAtObservation: d("100"),
			ObservedAt:           now,
		}); err != nil {
			return err
		}

		// Historical closed episode plus the current open one: queries must
		// distinguish them by state, not return order.
		if err := tx.InsertSnapshot(&exposure.Snapshot{
			ID:            uuid.New(),
			AccountID:     account.ID,
			ObservationID: obsID,
			Kind:          exposure.KindLoss,
			Amount:        decimal.Zero,
			OwnerPct:      d("1"),
			CounterPct:    d("9"),
			State:         exposure.StateClosed,
			CloseReason:   exposure.CloseReasonPayment,
			CreatedAt:     now.Add(-time.Hour),
			UpdatedAt:     now.Add(-time.Hour),
		}); err != nil {
			return err
		}
		if err := tx.InsertSnapshot(&exposure.Snapshot{
			ID:            openID,
			AccountID:     account.ID,
			ObservationID: obsID,
			Kind:          exposure.KindLoss,
			Amount:        d("60"),
			OwnerPct:      d("1"),
			CounterPct:    d("9"),
			State:         exposure.StateOpen,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return err
		}

		a, err := tx.Account()
		if err != nil {
			return err
		}
		a.CachedCapital = d("100")
		return tx.UpdateAccount(a)
	})
	if err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	return query.NewService(db), account.ID, openID
}

func TestGetOpenExposure_ReturnsOnlyTheOpenSnapshot(t *testing.T) {
	svc, accountID, openID := seedAccount(t)

	resp, err := svc.GetOpenExposure(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get open exposure: %v", err)
	}
	if resp == nil {
		t.Fatal("expected the open snapshot")
	}
	if resp.SnapshotID != openID {
		t.Errorf("snapshot id = %s, want %s (closed snapshot leaked?)", resp.SnapshotID, openID)
	}
	if !resp.Amount.Equal(d("60")) {
		t.Errorf("amount = %s, want 60", resp.Amount)
	}
	if !resp.ClientPayable.Equal(d("6")) {
		t.Errorf("client payable = %s, want 6", resp.ClientPayable)
	}
	if !resp.OwnerReceivable.Equal(d("0.6")) || !resp.CounterReceivable.Equal(d("5.4")) {
		t.Errorf("receivables = %s/%s, want 0.6/5.4", resp.OwnerReceivable, resp.CounterReceivable)
	}
}

func TestGetCapital(t *testing.T) {
	svc, accountID, _ := seedAccount(t)

	resp, err := svc.GetCapital(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get capital: %v", err)
	}
	if !resp.Capital.Equal(d("100")) {
		t.Errorf("capital = %s, want 100", resp.Capital)
	}
}

func TestReconcileCapital(t *testing.T) {
	svc, accountID, _ := seedAccount(t)

	report, err := svc.ReconcileCapital(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.AccountsChecked < 1 {
		t.Errorf("accounts checked = %d, want >= 1", report.AccountsChecked)
	}
	for _, div := range report.Divergences {
		if div.AccountID == accountID {
			t.Errorf("seeded account reported divergent: cached %s derived %s", div.Cached, div.Derived)
		}
	}
}
