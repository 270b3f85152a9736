package ingestion

import (
	"TreasuryLedger/internal/core"
	"TreasuryLedger/internal/treasury"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// JetStreamPublisher is the subset of jetstream.JetStream the publisher uses.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes program events to NATS once their
// instruction is persisted. Subjects follow
// treasury.events.{event_name}.{treasury}.
type OutboundPublisher struct {
	js        JetStreamPublisher
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

// PublishableEvent is the outbound message body.
type PublishableEvent struct {
	Sequence        int64          `json:"sequence"`
	InstructionType string         `json:"instruction_type"`
	IdempotencyKey  string         `json:"idempotency_key"`
	Event           string         `json:"event"`
	Treasury        string         `json:"treasury"`
	Payload         treasury.Event `json:"payload"`
	StateHash       string         `json:"state_hash"`
	Timestamp       time.Time      `json:"timestamp"`
}

func NewOutboundPublisher(js JetStreamPublisher, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for _, evt := range Publishable(out) {
				if err := op.publish(ctx, evt); err != nil {
					// Non-fatal: consumers can read the instruction log directly
					op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Str("event", evt.Event).Msg("outbound publish failed")
				}
			}
		}
	}
}

// Publishable expands an output into one message per program event.
func Publishable(out core.CoreOutput) []PublishableEvent {
	env := out.Envelope
	events := make([]PublishableEvent, 0, len(out.Events))
	for _, e := range out.Events {
		events = append(events, PublishableEvent{
			Sequence:        env.Sequence,
			InstructionType: env.InstructionType.String(),
			IdempotencyKey:  env.IdempotencyKey,
			Event:           e.EventName(),
			Treasury:        e.TreasuryAddress().String(),
			Payload:         e,
			StateHash:       hex.EncodeToString(env.StateHash[:]),
			Timestamp:       env.Timestamp,
		})
	}
	return events
}

// Subject returns treasury.events.{event_name}.{treasury}.
func (e PublishableEvent) Subject() string {
	return fmt.Sprintf("treasury.events.%s.%s", strings.ToLower(e.Event), e.Treasury)
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The msg id lets the stream drop republished events after a restart
	msgID := fmt.Sprintf("%d:%s", evt.Sequence, evt.Event)
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(msgID))
	return err
}
