// Package events parses and applies delivery and engagement webhooks from
// the email provider.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type enumerates the provider's webhook event types.
type Type string

const (
	TypeSent       Type = "sent"
	TypeDelivered  Type = "delivered"
	TypeOpened     Type = "opened"
	TypeClicked    Type = "clicked"
	TypeBounced    Type = "bounced"
	TypeComplained Type = "complained"
)

// ErrMalformed marks webhook bodies that do not match the expected shape.
// Handlers acknowledge these without acting on them; the provider never sees
// a failure response for them.
var ErrMalformed = errors.New("malformed webhook payload")

// Event is one provider webhook delivery, reduced to the fields the
// processor acts on.
type Event struct {
	Type         Type
	ProviderID   string
	BounceReason string
}

// envelope mirrors the provider's wire shape. The payload is untrusted
// input; only the fields below are ever read.
type envelope struct {
	Type string `json:"type"`
	Data struct {
		EmailID string `json:"email_id"`
		Bounce  struct {
			Message string `json:"message"`
		} `json:"bounce"`
	} `json:"data"`
}

// Parse decodes a webhook body into an Event.
func Parse(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("%w: missing event type", ErrMalformed)
	}
	return Event{
		Type:         Type(env.Type),
		ProviderID:   env.Data.EmailID,
		BounceReason: env.Data.Bounce.Message,
	}, nil
}
