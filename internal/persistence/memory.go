package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"SettleLedger/internal/errs"
	"SettleLedger/internal/exposure"
	"SettleLedger/internal/ledger"
)

// MemoryStore is the in-memory Store used by tests and by single-process
// deployments without Postgres. Each account carries its own mutex as the
// exclusive lock; a transaction works on a deep copy of the account state and
// swaps it in only on commit, so an aborted transaction leaves no trace.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*memAccount
}

type memAccount struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	account      ledger.Account
	entries      []ledger.Entry
	observations []exposure.Observation // in applied order; last is latest
	snapshots    []exposure.Snapshot
	settlements  []ledger.Settlement
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*memAccount),
	}
}

func (ms *MemoryStore) CreateAccount(_ context.Context, a *ledger.Account) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.accounts[a.ID]; exists {
		return errs.Validationf("account %s already exists", a.ID)
	}
	ms.accounts[a.ID] = &memAccount{
		state: &memState{account: *a},
	}
	return nil
}

func (ms *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*ledger.Account, error) {
	ms.mu.RLock()
	ma, ok := ms.accounts[id]
	ms.mu.RUnlock()
	if !ok {
		return nil, errs.ErrAccountNotFound
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()
	a := ma.state.account
	return &a, nil
}

func (ms *MemoryStore) WithAccount(ctx context.Context, id uuid.UUID, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ms.mu.RLock()
	ma, ok := ms.accounts[id]
	ms.mu.RUnlock()
	if !ok {
		return errs.ErrAccountNotFound
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()

	tx := &memTx{work: ma.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}

	ma.state = tx.work
	return nil
}

func (s *memState) clone() *memState {
	c := &memState{
		account:      s.account,
		entries:      make([]ledger.Entry, len(s.entries)),
		observations: make([]exposure.Observation, len(s.observations)),
		snapshots:    make([]exposure.Snapshot, len(s.snapshots)),
		settlements:  make([]ledger.Settlement, len(s.settlements)),
	}
	copy(c.entries, s.entries)
	copy(c.observations, s.observations)
	copy(c.snapshots, s.snapshots)
	copy(c.settlements, s.settlements)
	return c
}

// memTx operates on the working copy only. Methods hand out copies so callers
// cannot bypass Update* writes.
type memTx struct {
	work *memState
}

func (tx *memTx) Account() (*ledger.Account, error) {
	a := tx.work.account
	return &a, nil
}

func (tx *memTx) UpdateAccount(a *ledger.Account) error {
	if a.ID != tx.work.account.ID {
		return fmt.Errorf("update targets account %s outside transaction scope", a.ID)
	}
	tx.work.account = *a
	return nil
}

func (tx *memTx) AppendEntry(e ledger.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	tx.work.entries = append(tx.work.entries, e)
	return nil
}

func (tx *memTx) Entries() ([]ledger.Entry, error) {
	out := make([]ledger.Entry, len(tx.work.entries))
	copy(out, tx.work.entries)
	return out, nil
}

func (tx *memTx) InsertObservation(o *exposure.Observation) error {
	for _, existing := range tx.work.observations {
		if existing.ID == o.ID {
			return errs.Validationf("observation %s already exists", o.ID)
		}
	}
	tx.work.observations = append(tx.work.observations, *o)
	return nil
}

func (tx *memTx) UpdateObservation(o *exposure.Observation) error {
	for i := range tx.work.observations {
		if tx.work.observations[i].ID == o.ID {
			tx.work.observations[i] = *o
			return nil
		}
	}
	return fmt.Errorf("observation %s not found", o.ID)
}

func (tx *memTx) Observation(id uuid.UUID) (*exposure.Observation, error) {
	for i := range tx.work.observations {
		if tx.work.observations[i].ID == id {
			o := tx.work.observations[i]
			return &o, nil
		}
	}
	return nil, nil
}

func (tx *memTx) LatestObservation() (*exposure.Observation, error) {
	if len(tx.work.observations) == 0 {
		return nil, nil
	}
	o := tx.work.observations[len(tx.work.observations)-1]
	return &o, nil
}

func (tx *memTx) InsertSnapshot(s *exposure.Snapshot) error {
	for _, existing := range tx.work.snapshots {
		if existing.ID == s.ID {
			return errs.Validationf("snapshot %s already exists", s.ID)
		}
	}
	tx.work.snapshots = append(tx.work.snapshots, *s)
	return nil
}

func (tx *memTx) UpdateSnapshot(s *exposure.Snapshot) error {
	for i := range tx.work.snapshots {
		if tx.work.snapshots[i].ID == s.ID {
			tx.work.snapshots[i] = *s
			return nil
		}
	}
	return fmt.Errorf("snapshot %s not found", s.ID)
}

func (tx *memTx) Snapshot(id uuid.UUID) (*exposure.Snapshot, error) {
	for i := range tx.work.snapshots {
		if tx.work.snapshots[i].ID == id {
			s := tx.work.snapshots[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (tx *memTx) OpenSnapshot() (*exposure.Snapshot, error) {
	open, err := tx.OpenSnapshots()
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}
	return open[0], nil
}

func (tx *memTx) OpenSnapshots() ([]*exposure.Snapshot, error) {
	var open []*exposure.Snapshot
	for i := range tx.work.snapshots {
		if tx.work.snapshots[i].Open() {
			s := tx.work.snapshots[i]
			open = append(open, &s)
		}
	}
	return open, nil
}

func (tx *memTx) InsertSettlement(s ledger.Settlement) error {
	for _, existing := range tx.work.settlements {
		if existing.Key == s.Key {
			return errs.Validationf("settlement with key %s already exists", s.Key)
		}
	}
	tx.work.settlements = append(tx.work.settlements, s)
	return nil
}

func (tx *memTx) SettlementByKey(key string) (*ledger.Settlement, error) {
	for i := range tx.work.settlements {
		if tx.work.settlements[i].Key == key {
			s := tx.work.settlements[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (tx *memTx) Settlements() ([]ledger.Settlement, error) {
	out := make([]ledger.Settlement, len(tx.work.settlements))
	copy(out, tx.work.settlements)
	return out, nil
}
