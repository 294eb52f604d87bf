package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settlement records one accepted payment against one exposure snapshot.
// Created exactly once per accepted payment and never mutated. Key is the
// deterministic idempotency fingerprint of the request; a retried call with
// the same inputs finds this record and returns it instead of re-applying.
type Settlement struct {
	SettlementID  uuid.UUID
	AccountID     uuid.UUID
	SnapshotID    uuid.UUID
	ObservationID uuid.UUID
	Key           string

	Payment       decimal.Decimal // share-space, as submitted (normalized)
	CapitalClosed decimal.Decimal // capital-space, rounded once
	OwnerAmount   decimal.Decimal
	CounterAmount decimal.Decimal

	RemainingAfter decimal.Decimal // snapshot amount after this payment
	ClosedSnapshot bool            // whether this payment closed the snapshot

	CreatedAt time.Time
}
