// Package persistence provides the transactional stores behind the
// settlement engine. The account row is the single point of serialization:
// every mutating operation runs inside one short-lived transaction that holds
// an exclusive per-account lock, so capital and exposure mutations for one
// account never interleave while unrelated accounts proceed concurrently.
package persistence

import (
	"context"

	"github.com/google/uuid"

	"SettleLedger/internal/exposure"
	"SettleLedger/internal/ledger"
)

// Tx is an account-scoped transaction. All reads and writes target the
// account whose lock the transaction holds. Returning an error from the
// function passed to WithAccount rolls back every write; nothing is
// partially applied.
//
// Tx satisfies ledger.AuditView so the invariant auditor runs against the
// exact state about to commit.
type Tx interface {
	Account() (*ledger.Account, error)
	UpdateAccount(a *ledger.Account) error

	AppendEntry(e ledger.Entry) error
	Entries() ([]ledger.Entry, error)

	InsertObservation(o *exposure.Observation) error
	UpdateObservation(o *exposure.Observation) error
	Observation(id uuid.UUID) (*exposure.Observation, error)
	LatestObservation() (*exposure.Observation, error)

	InsertSnapshot(s *exposure.Snapshot) error
	UpdateSnapshot(s *exposure.Snapshot) error
	Snapshot(id uuid.UUID) (*exposure.Snapshot, error)
	OpenSnapshot() (*exposure.Snapshot, error)
	OpenSnapshots() ([]*exposure.Snapshot, error)

	InsertSettlement(s ledger.Settlement) error
	SettlementByKey(key string) (*ledger.Settlement, error)
	Settlements() ([]ledger.Settlement, error)
}

// Store opens account-scoped transactions and manages account rows.
type Store interface {
	CreateAccount(ctx context.Context, a *ledger.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)

	// WithAccount acquires the exclusive lock for the account, runs fn inside
	// a transaction, and commits iff fn returns nil. Lookup-miss yields
	// errs.ErrAccountNotFound.
	WithAccount(ctx context.Context, id uuid.UUID, fn func(Tx) error) error
}
