// Package ingestion is the NATS JetStream shell around the engine: it
// consumes externally reported balances and funding notices, validates and
// parses them, and feeds them to the engine. Amounts travel as JSON strings
// and are parsed into exact decimals; nothing on this path goes through
// binary floats.
package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceReport is one externally reported balance, the input to exposure
// tracking. ObservationID is assigned by the producer so redelivered
// messages stay idempotent end to end.
type BalanceReport struct {
	ObservationID uuid.UUID
	AccountID     uuid.UUID
	Balance       decimal.Decimal
	ObservedAt    time.Time
}

// FundingNotice reports capital entrusted to an account, produced by the
// treasury side.
type FundingNotice struct {
	FundingID uuid.UUID
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Ref       string
}

type balanceReportJSON struct {
	ObservationID string `json:"observation_id"`
	AccountID     string `json:"account_id"`
	Balance       string `json:"balance"`
	ObservedAtUs  int64  `json:"observed_at_us"`
}

type fundingNoticeJSON struct {
	FundingID string `json:"funding_id"`
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	Ref       string `json:"ref"`
}

// ParseBalanceReport decodes and validates a balance report payload.
func ParseBalanceReport(data []byte) (*BalanceReport, error) {
	var j balanceReportJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BalanceReport: %w", err)
	}

	observationID, err := uuid.Parse(j.ObservationID)
	if err != nil {
		return nil, fmt.Errorf("parse observation_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	balance, err := decimal.NewFromString(j.Balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", j.Balance, err)
	}
	if j.ObservedAtUs <= 0 {
		return nil, fmt.Errorf("observed_at_us must be positive, got %d", j.ObservedAtUs)
	}

	return &BalanceReport{
		ObservationID: observationID,
		AccountID:     accountID,
		Balance:       balance,
		ObservedAt:    time.UnixMicro(j.ObservedAtUs),
	}, nil
}

// ParseFundingNotice decodes and validates a funding notice payload.
func ParseFundingNotice(data []byte) (*FundingNotice, error) {
	var j fundingNoticeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundingNotice: %w", err)
	}

	fundingID, err := uuid.Parse(j.FundingID)
	if err != nil {
		return nil, fmt.Errorf("parse funding_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	amount, err := decimal.NewFromString(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", j.Amount, err)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("funding amount must be positive, got %s", amount)
	}

	return &FundingNotice{
		FundingID: fundingID,
		AccountID: accountID,
		Amount:    amount,
		Ref:       j.Ref,
	}, nil
}
