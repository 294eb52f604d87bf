package exposure

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind classifies the direction of a divergence between capital and balance.
type Kind int32

const (
	KindLoss   Kind = iota + 1 // capital > balance: counter-party owes
	KindProfit                 // balance > capital: broker owes, withdrawn immediately
)

func (k Kind) String() string {
	switch k {
	case KindLoss:
		return "Loss"
	case KindProfit:
		return "Profit"
	default:
		return "Unknown"
	}
}

// State tracks an exposure episode's lifecycle.
type State int32

const (
	StateOpen State = iota
	StatePartiallySettled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StatePartiallySettled:
		return "PartiallySettled"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates lifecycle transitions. Anything not listed here
// is rejected before it reaches storage.
func (s State) CanTransitionTo(next State) bool {
	validTransitions := map[State][]State{
		StateOpen: {
			StatePartiallySettled,
			StateClosed,
		},
		StatePartiallySettled: {
			StatePartiallySettled, // successive partial payments
			StateClosed,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if next == a {
			return true
		}
	}
	return false
}

// CloseReason records why a snapshot left the open state.
type CloseReason int32

const (
	CloseReasonNone CloseReason = iota
	CloseReasonPayment
	CloseReasonWithdrawal
	CloseReasonInvalidated
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonNone:
		return "None"
	case CloseReasonPayment:
		return "Payment"
	case CloseReasonWithdrawal:
		return "Withdrawal"
	case CloseReasonInvalidated:
		return "Invalidated"
	default:
		return "Unknown"
	}
}

// Snapshot is a frozen loss or profit exposure. Amount is fixed at creation
// and only ever reduced by settlements; trading activity after the freeze
// never touches it. The share percentages are copies of the account config at
// freeze time, not live values.
type Snapshot struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	ObservationID uuid.UUID
	Kind          Kind
	Amount        decimal.Decimal
	OwnerPct      decimal.Decimal
	CounterPct    decimal.Decimal
	State         State
	CloseReason   CloseReason
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Open reports whether the snapshot still accepts settlements.
func (s *Snapshot) Open() bool {
	return s.State != StateClosed
}

// Policy returns the frozen share split.
func (s *Snapshot) Policy() SharePolicy {
	return SharePolicy{OwnerPct: s.OwnerPct, CounterPct: s.CounterPct}
}
