package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"SettleLedger/internal/core"
)

const (
	outboundStream        = "SETTLE_EVENTS"
	outboundSubjectPrefix = "settle.events"
)

// Publisher emits committed engine outcomes to NATS for downstream
// consumers (notification and report layers). Publishing is best-effort:
// every outcome is already durable in Postgres, so a failed publish is
// logged and dropped rather than retried.
type Publisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, log: log}
}

type exposureFrozenEvent struct {
	AccountID     string `json:"account_id"`
	SnapshotID    string `json:"snapshot_id"`
	ObservationID string `json:"observation_id"`
	Amount        string `json:"amount"`
	TimestampUs   int64  `json:"timestamp_us"`
}

type profitWithdrawnEvent struct {
	AccountID     string `json:"account_id"`
	WithdrawalID  string `json:"withdrawal_id"`
	ObservationID string `json:"observation_id"`
	Amount        string `json:"amount"`
	TimestampUs   int64  `json:"timestamp_us"`
}

type settlementAppliedEvent struct {
	AccountID     string `json:"account_id"`
	SettlementID  string `json:"settlement_id"`
	Payment       string `json:"payment"`
	CapitalClosed string `json:"capital_closed"`
	Remaining     string `json:"remaining"`
	Settled       bool   `json:"settled"`
	TimestampUs   int64  `json:"timestamp_us"`
}

// ExposureFrozen announces a newly frozen loss exposure.
func (p *Publisher) ExposureFrozen(ctx context.Context, accountID uuid.UUID, r *core.TrackerResult) {
	if r.OpenSnapshotID == nil {
		return
	}
	p.publish(ctx, "exposure_frozen", accountID, exposureFrozenEvent{
		AccountID:     accountID.String(),
		SnapshotID:    r.OpenSnapshotID.String(),
		ObservationID: r.ObservationID.String(),
		Amount:        r.Loss.String(),
		TimestampUs:   time.Now().UnixMicro(),
	})
}

// ProfitWithdrawn announces an immediate profit withdrawal.
func (p *Publisher) ProfitWithdrawn(ctx context.Context, accountID uuid.UUID, r *core.TrackerResult) {
	if r.WithdrawalID == nil {
		return
	}
	p.publish(ctx, "profit_withdrawn", accountID, profitWithdrawnEvent{
		AccountID:     accountID.String(),
		WithdrawalID:  r.WithdrawalID.String(),
		ObservationID: r.ObservationID.String(),
		Amount:        r.WithdrawnProfit.String(),
		TimestampUs:   time.Now().UnixMicro(),
	})
}

// SettlementApplied announces a committed settlement.
func (p *Publisher) SettlementApplied(ctx context.Context, accountID uuid.UUID, r *core.SettleResult) {
	p.publish(ctx, "settlement_applied", accountID, settlementAppliedEvent{
		AccountID:     accountID.String(),
		SettlementID:  r.SettlementID.String(),
		Payment:       r.Payment.String(),
		CapitalClosed: r.CapitalClosed.String(),
		Remaining:     r.Remaining.String(),
		Settled:       r.Settled,
		TimestampUs:   time.Now().UnixMicro(),
	})
}

func (p *Publisher) publish(ctx context.Context, kind string, accountID uuid.UUID, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error().Err(err).Str("kind", kind).Msg("marshal outbound event")
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", outboundSubjectPrefix, kind, accountID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("outbound publish failed")
	}
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      outboundStream,
		Subjects:  []string{outboundSubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", outboundStream).Msg("ensured outbound stream")
	return nil
}
