package events

import (
	"context"
	"fmt"
	"log/slog"
)

// defaultBounceReason is recorded when the provider omits one.
const defaultBounceReason = "Email bounced"

// StatusStore mutates broadcast log entries keyed by provider correlation
// id. Every method reports whether an entry was actually touched; counter
// increments must be atomic at the store against concurrent events for the
// same entry.
type StatusStore interface {
	MarkSentByProvider(ctx context.Context, providerID string) (bool, error)
	MarkDelivered(ctx context.Context, providerID string) (bool, error)
	MarkBounced(ctx context.Context, providerID, reason string) (bool, error)
	IncrementOpens(ctx context.Context, providerID string) (bool, error)
	IncrementClicks(ctx context.Context, providerID string) (bool, error)
}

// Outcome reports what the processor did with an event.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
)

// Processor applies provider events to the broadcast log.
type Processor struct {
	store  StatusStore
	logger *slog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(store StatusStore, logger *slog.Logger) *Processor {
	return &Processor{
		store:  store,
		logger: logger.With("component", "events"),
	}
}

// Process applies one event. Events without a provider id, for an unknown
// provider id, or of an unrecognized type come back as OutcomeIgnored with a
// nil error: benign no-ops. Only store failures surface as errors.
func (p *Processor) Process(ctx context.Context, ev Event) (Outcome, error) {
	if ev.ProviderID == "" {
		p.logger.Debug("event without provider id", "type", ev.Type)
		return OutcomeIgnored, nil
	}

	var (
		found bool
		err   error
	)
	switch ev.Type {
	case TypeSent:
		found, err = p.store.MarkSentByProvider(ctx, ev.ProviderID)
	case TypeDelivered:
		found, err = p.store.MarkDelivered(ctx, ev.ProviderID)
	case TypeOpened:
		found, err = p.store.IncrementOpens(ctx, ev.ProviderID)
	case TypeClicked:
		found, err = p.store.IncrementClicks(ctx, ev.ProviderID)
	case TypeBounced:
		reason := ev.BounceReason
		if reason == "" {
			reason = defaultBounceReason
		}
		found, err = p.store.MarkBounced(ctx, ev.ProviderID, reason)
	case TypeComplained:
		// Recorded for operators but not acted on: a spam complaint does not
		// force an unsubscribe today.
		p.logger.Warn("spam complaint received", "provider_id", ev.ProviderID)
		return OutcomeIgnored, nil
	default:
		p.logger.Debug("unrecognized event type", "type", ev.Type, "provider_id", ev.ProviderID)
		return OutcomeIgnored, nil
	}

	if err != nil {
		return OutcomeIgnored, fmt.Errorf("apply %s event: %w", ev.Type, err)
	}
	if !found {
		p.logger.Debug("event matched no broadcast", "type", ev.Type, "provider_id", ev.ProviderID)
		return OutcomeIgnored, nil
	}
	return OutcomeApplied, nil
}
