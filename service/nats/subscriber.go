package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// SubscribeOptions configures a subscription.
type SubscribeOptions struct {
	// Durable names a consumer that survives restarts. Empty means ephemeral.
	Durable string
	// NewOnly skips events already in the stream.
	NewOnly bool
}

// Subscribe streams transaction events for account to handle until ctx is
// done. Messages that cannot be decoded are acked and skipped.
func Subscribe(ctx context.Context, js jetstream.JetStream, account string, opts SubscribeOptions, logger *slog.Logger, handle func(*TransactionEvent)) error {
	cfg := jetstream.ConsumerConfig{
		FilterSubject: Subject(account),
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if opts.Durable != "" {
		cfg.Durable = opts.Durable
		cfg.Name = opts.Durable
	}
	if opts.NewOnly {
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		event, err := DecodeEvent(msg.Data())
		if err != nil {
			logger.Warn("skipping undecodable event", "subject", msg.Subject(), "error", err)
			_ = msg.Ack()
			return
		}
		handle(event)
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}

// DecodeEvent parses a published event.
func DecodeEvent(data []byte) (*TransactionEvent, error) {
	var event TransactionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode transaction event: %w", err)
	}
	return &event, nil
}
