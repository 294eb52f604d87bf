package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"SettleLedger/internal/core"
	"SettleLedger/internal/errs"
)

const (
	balanceStream  = "SETTLE_BALANCES"
	balanceSubject = "settle.balances.>"
	fundingStream  = "SETTLE_FUNDING"
	fundingSubject = "settle.funding.>"
)

// Subscriber consumes balance reports and funding notices from JetStream
// and applies them through the engine. Consumers are durable with explicit
// ACK: a message is acked once the engine has committed it or rejected it
// terminally, and nacked for redelivery on transient failure.
type Subscriber struct {
	js        jetstream.JetStream
	engine    *core.Engine
	publisher *Publisher
	log       zerolog.Logger
	consumers []jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, engine *core.Engine, publisher *Publisher, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		js:        js,
		engine:    engine,
		publisher: publisher,
		log:       log,
	}
}

// Start creates the durable consumers and begins processing.
func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.consume(ctx, balanceStream, balanceSubject, "settle-balances", s.handleBalance); err != nil {
		return err
	}
	if err := s.consume(ctx, fundingStream, fundingSubject, "settle-funding", s.handleFunding); err != nil {
		return err
	}
	return nil
}

func (s *Subscriber) consume(ctx context.Context, stream, subject, durable string, handle func(context.Context, jetstream.Msg)) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", durable, err)
	}

	s.consumers = append(s.consumers, cc)
	s.log.Info().Str("subject", subject).Str("consumer", durable).Msg("subscribed")
	return nil
}

func (s *Subscriber) handleBalance(ctx context.Context, msg jetstream.Msg) {
	report, err := ParseBalanceReport(msg.Data())
	if err != nil {
		// Malformed payloads never become valid on redelivery.
		s.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed balance report")
		msg.Ack()
		return
	}

	result, err := s.engine.ObserveBalance(ctx, report.AccountID, report.ObservationID, report.Balance, report.ObservedAt)
	if err != nil {
		s.dispose(msg, err, "balance report")
		return
	}
	msg.Ack()

	if result.Duplicate || s.publisher == nil {
		return
	}
	if result.FrozeSnapshot {
		s.publisher.ExposureFrozen(ctx, report.AccountID, result)
	}
	if result.WithdrawalID != nil {
		s.publisher.ProfitWithdrawn(ctx, report.AccountID, result)
	}
}

func (s *Subscriber) handleFunding(ctx context.Context, msg jetstream.Msg) {
	notice, err := ParseFundingNotice(msg.Data())
	if err != nil {
		s.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed funding notice")
		msg.Ack()
		return
	}

	ref := notice.Ref
	if ref == "" {
		ref = notice.FundingID.String()
	}

	if _, err := s.engine.RecordFunding(ctx, notice.AccountID, notice.Amount, ref); err != nil {
		s.dispose(msg, err, "funding notice")
		return
	}
	msg.Ack()
}

// dispose acks terminal rejections and nacks everything else for
// redelivery. Validation errors are terminal: the same payload is rejected
// for the same reason every time. Invariant violations and infrastructure
// errors may succeed on retry once the underlying condition clears.
func (s *Subscriber) dispose(msg jetstream.Msg, err error, what string) {
	if errs.IsValidation(err) || errors.Is(err, errs.ErrAccountNotFound) {
		s.log.Warn().Err(err).Str("subject", msg.Subject()).Msgf("%s rejected", what)
		msg.Ack()
		return
	}
	s.log.Error().Err(err).Str("subject", msg.Subject()).Msgf("%s failed, redelivering", what)
	msg.Nak()
}

// Stop gracefully stops all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.log.Info().Msg("subscribers stopped")
}

// EnsureStreams creates the required JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      balanceStream,
			Subjects:  []string{balanceSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      fundingStream,
			Subjects:  []string{fundingSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}

	return nc, js, nil
}
