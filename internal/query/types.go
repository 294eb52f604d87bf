package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountSummary is the display view of one account.
type AccountSummary struct {
	AccountID      uuid.UUID         `json:"account_id"`
	Client         string            `json:"client"`
	Exchange       string            `json:"exchange"`
	OwnerPct       decimal.Decimal   `json:"owner_share_pct"`
	CounterPct     decimal.Decimal   `json:"counter_share_pct"`
	Precision      int32             `json:"precision"`
	Capital        decimal.Decimal   `json:"capital"`
	WithdrawnTotal decimal.Decimal   `json:"withdrawn_total"`
	OpenExposure   *ExposureResponse `json:"open_exposure,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// CapitalResponse is the lock-free capital read.
type CapitalResponse struct {
	AccountID uuid.UUID       `json:"account_id"`
	Capital   decimal.Decimal `json:"capital"`
	AsOf      time.Time       `json:"as_of"`
}

// ExposureResponse is an open exposure snapshot with its derived
// share-space receivables.
type ExposureResponse struct {
	SnapshotID        uuid.UUID       `json:"snapshot_id"`
	ObservationID     uuid.UUID       `json:"observation_id"`
	Kind              int32           `json:"kind"`
	Amount            decimal.Decimal `json:"amount"`
	OwnerPct          decimal.Decimal `json:"owner_share_pct"`
	CounterPct        decimal.Decimal `json:"counter_share_pct"`
	State             int32           `json:"state"`
	ClientPayable     decimal.Decimal `json:"client_payable"`
	OwnerReceivable   decimal.Decimal `json:"owner_receivable"`
	CounterReceivable decimal.Decimal `json:"counter_receivable"`
	CreatedAt         time.Time       `json:"created_at"`
}

// LedgerEntryResponse is one ledger entry for history queries.
type LedgerEntryResponse struct {
	AccountID uuid.UUID       `json:"account_id"`
	EntryID   uuid.UUID       `json:"entry_id"`
	Kind      int32           `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Ref       string          `json:"ref"`
	CreatedAt time.Time       `json:"created_at"`
}

// SettlementResponse is one settlement event for history queries.
type SettlementResponse struct {
	AccountID      uuid.UUID       `json:"account_id"`
	SettlementID   uuid.UUID       `json:"settlement_id"`
	SnapshotID     uuid.UUID       `json:"snapshot_id"`
	ObservationID  uuid.UUID       `json:"observation_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payment        decimal.Decimal `json:"payment"`
	CapitalClosed  decimal.Decimal `json:"capital_closed"`
	OwnerAmount    decimal.Decimal `json:"owner_amount"`
	CounterAmount  decimal.Decimal `json:"counter_amount"`
	RemainingAfter decimal.Decimal `json:"remaining_after"`
	ClosedSnapshot bool            `json:"closed_snapshot"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ObservationResponse is one balance observation for history queries.
type ObservationResponse struct {
	AccountID            uuid.UUID       `json:"account_id"`
	ObservationID        uuid.UUID       `json:"observation_id"`
	ReportedBalance      decimal.Decimal `json:"reported_balance"`
	EffectiveBalance     decimal.Decimal `json:"effective_balance"`
	CapitalAtObservation decimal.Decimal `json:"capital_at_observation"`
	ObservedAt           time.Time       `json:"observed_at"`
	ProfitWithdrawn      bool            `json:"profit_withdrawn"`
	WithdrawalID         *uuid.UUID      `json:"withdrawal_id,omitempty"`
}

// ReconciliationReport is the result of a full cache-vs-ledger recheck.
type ReconciliationReport struct {
	IsHealthy       bool                `json:"is_healthy"`
	AccountsChecked int                 `json:"accounts_checked"`
	Divergences     []CapitalDivergence `json:"divergences,omitempty"`
}

// CapitalDivergence is one account whose cached capital no longer matches
// the ledger-derived value.
type CapitalDivergence struct {
	AccountID uuid.UUID       `json:"account_id"`
	Cached    decimal.Decimal `json:"cached"`
	Derived   decimal.Decimal `json:"derived"`
}
