package persistence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SettleLedger/internal/errs"
	"SettleLedger/internal/exposure"
	"SettleLedger/internal/ledger"
	"SettleLedger/internal/persistence"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newAccount() *ledger.Account {
	return &ledger.Account{
		ID:             uuid.New(),
		Client:         "acme",
		Exchange:       "nyx",
		OwnerPct:       d("1"),
		CounterPct:     d("9"),
		Precision:      2,
		CachedCapital:  decimal.Zero,
		WithdrawnTotal: decimal.Zero,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	account := newAccount()

	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := store.CreateAccount(ctx, account); err == nil {
		t.Fatal("duplicate account creation should fail")
	}

	got, err := store.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Client != "acme" || got.Exchange != "nyx" {
		t.Errorf("got account %s/%s, want acme/nyx", got.Client, got.Exchange)
	}

	if _, err := store.GetAccount(ctx, uuid.New()); !errors.Is(err, errs.ErrAccountNotFound) {
		t.Errorf("unknown account: got %v, want ErrAccountNotFound", err)
	}
}

func TestMemoryStore_WithAccountUnknown(t *testing.T) {
	store := persistence.NewMemoryStore()
	err := store.WithAccount(context.Background(), uuid.New(), func(persistence.Tx) error {
		t.Fatal("fn should not run for unknown account")
		return nil
	})
	if !errors.Is(err, errs.ErrAccountNotFound) {
		t.Errorf("got %v, want ErrAccountNotFound", err)
	}
}

func TestMemoryStore_CommitPersistsWrites(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	account := newAccount()
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	err := store.WithAccount(ctx, account.ID, func(tx persistence.Tx) error {
		if err := tx.AppendEntry(ledger.Entry{
			EntryID:   uuid.New(),
			AccountID: account.ID,
			Kind:      ledger.EntryFunding,
			Amount:    d("100"),
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
		t.Fatalf("transaction: %v", err)
	}

	got, err := store.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !got.CachedCapital.Equal(d("100")) {
		t.Errorf("cached capital = %s, want 100", got.CachedCapital)
	}

	err = store.WithAccount(ctx, account.ID, func(tx persistence.Tx) error {
		entries, err := tx.Entries()
		if err != nil {
			return err
		}
		if len(entries) != 1 {
			t.Errorf("got %d entries, want 1", len(entries))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read transaction: %v", err)
	}
}

func TestMemoryStore_ErrorRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	account := newAccount()
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	boom := errors.New("boom")
	err := store.WithAccount(ctx, account.ID, func(tx persistence.Tx) error {
		if err := tx.AppendEntry(ledger.Entry{
			EntryID:   uuid.New(),
			AccountID: account.ID,
			Kind:      ledger.EntryFunding,
			Amount:    d("100"),
		}); err != nil {
			return err
		}
		if err := tx.InsertSnapshot(&exposure.Snapshot{
			ID:            uuid.New(),
			AccountID:     account.ID,
			ObservationID: uuid.New(),
			Kind:          exposure.KindLoss,
			Amount:        d("60"),
			State:         exposure.StateOpen,
		}); err != nil {
			return err
		}
		a, err := tx.Account()
		if err != nil {
			return err
		}
		a.CachedCapital = d("100")
		if err := tx.UpdateAccount(a); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	got, err := store.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !got.CachedCapital.IsZero() {
		t.Errorf("cached capital = %s after rollback, want 0", got.CachedCapital)
	}

	err = store.WithAccount(ctx, account.ID, func(tx persistence.Tx) error {
		entries, err := tx.Entries()
		if err != nil {
			return err
		}
		if len(entries) != 0 {
			t.Errorf("got %d entries after rollback, want 0", len(entries))
		}
		open, err := tx.OpenSnapshot()
		if err != nil {
			return err
		}
		if open != nil {
			t.Error("snapshot survived rollback")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read transaction: %v", err)
	}
}

func TestMemoryStore_TxHandsOutCopies(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	account := newAccount()
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	// Mutating a read copy without calling UpdateAccount must not stick.
	err := store.WithAccount(ctx, account.ID, func(tx persistence.Tx) error {
		a, err := tx.Account()
		if err != nil {
			return err
		}
		a.CachedCapital = d("999")
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	got, err := store.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !got.CachedCapital.IsZero() {
		t.Errorf("cached capital = %s, want 0 (read copy leaked)", got.CachedCapital)
	}
}

func TestMemoryStore_LatestObservation(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	account := newAccount()
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	first, second := uuid.New(), uuid.New()
	err := store.WithAccount(ctx, account.ID, func(tx persistence.Tx) error {
		if err := tx.InsertObservation(&exposure.Observation{ID: first, AccountID: account.ID}); err != nil {
			return err
		}
		return tx.InsertObservation(&exposure.Observation{ID: second, AccountID: account.ID})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	err = store.WithAccount(ctx, account.ID, func(tx persistence.Tx) error {
		latest, err := tx.LatestObservation()
		if err != nil {
			return err
		}
		if latest == nil || latest.ID != second {
			t.Errorf("latest observation = %v, want %s", latest, second)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read transaction: %v", err)
	}
}
