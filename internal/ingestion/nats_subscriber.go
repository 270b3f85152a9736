package ingestion

import (
	"TreasuryLedger/internal/event"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	InstructionStream = "TREASURY_INSTRUCTIONS"
	EventStream       = "TREASURY_EVENTS"
)

// NATSSubscriber subscribes to JetStream instruction subjects and feeds raw
// messages to the Dispatcher.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawInstruction
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawInstruction is an unparsed message plus its acknowledgement hooks.
type RawInstruction struct {
	Subject         string
	InstructionType string
	Data            []byte
	Timestamp       time.Time
	AckFunc         func() // processed or terminally rejected
	NakFunc         func() // transient failure, redeliver
	TermFunc        func() // malformed, never redeliver
}

// SubjectConfig maps a NATS subject to an instruction type.
type SubjectConfig struct {
	Subject         string
	InstructionType string
	ConsumerName    string
	StreamName      string
}

// DefaultSubjects returns one subject per instruction type.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "treasury.instructions.create", InstructionType: event.InstructionTypeCreateTreasury.String(), ConsumerName: "ledger-create", StreamName: InstructionStream},
		{Subject: "treasury.instructions.stake", InstructionType: event.InstructionTypeStake.String(), ConsumerName: "ledger-stake", StreamName: InstructionStream},
		{Subject: "treasury.instructions.redeem", InstructionType: event.InstructionTypeRedeem.String(), ConsumerName: "ledger-redeem", StreamName: InstructionStream},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawInstruction, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		logger:  logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		instrType := cfg.InstructionType
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawInstruction{
				Subject:         msg.Subject(),
				InstructionType: instrType,
				Data:            msg.Data(),
				Timestamp:       time.Now(),
				AckFunc:         func() { msg.Ack() },
				NakFunc:         func() { msg.Nak() },
				TermFunc:        func() { msg.Term() },
			}

			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the instruction and event streams if missing.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      InstructionStream,
			Subjects:  []string{"treasury.instructions.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:       EventStream,
			Subjects:   []string{"treasury.events.>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("treasuryd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
