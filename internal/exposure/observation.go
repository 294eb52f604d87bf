package exposure

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Observation is one externally reported balance for an account, immutable
// once recorded. The capital derived at the moment of observation is stored
// alongside the balance so the episode can be reproduced causally.
//
// EffectiveBalance is the reported balance minus everything already withdrawn
// as profit from this account; all capital comparisons use it. The only
// fields that ever change after insert are the profit-withdrawal guard pair
// (ProfitWithdrawn, WithdrawalID), flipped at most once.
type Observation struct {
	ID                   uuid.UUID
	AccountID            uuid.UUID
	ReportedBalance      decimal.Decimal
	EffectiveBalance     decimal.Decimal
	CapitalAtObservation decimal.Decimal
	ObservedAt           time.Time

	ProfitWithdrawn bool
	WithdrawalID    *uuid.UUID
}
