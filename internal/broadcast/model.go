// Package broadcast implements the compose-and-send operation and its audit
// log.
package broadcast

import "time"

// Status of a broadcast log entry.
type Status string

const (
	// StatusPending: the entry is written, dispatch has not finished yet.
	StatusPending Status = "pending"
	// StatusSent: the provider accepted every chunk.
	StatusSent Status = "sent"
	// StatusDelivered: the provider reported delivery.
	StatusDelivered Status = "delivered"
	// StatusBounced: the provider reported a bounce.
	StatusBounced Status = "bounced"
	// StatusFailed: dispatch aborted; earlier chunks may still have gone out.
	StatusFailed Status = "failed"
)

// LogEntry is the audit record of one send operation. It is written once by
// the orchestrator; only status, counters and last_error change afterwards,
// driven by provider webhook events.
type LogEntry struct {
	ID              string    `json:"id"`
	Subject         string    `json:"subject"`
	Body            string    `json:"body"`
	Preview         string    `json:"preview"`
	FilterKind      string    `json:"filter_kind"`
	RecipientEmails []string  `json:"recipient_emails"`
	RecipientCount  int       `json:"recipient_count"`
	ProviderID      string    `json:"provider_id,omitempty"`
	Status          Status    `json:"status"`
	OpenCount       int       `json:"open_count"`
	ClickCount      int       `json:"click_count"`
	LastError       string    `json:"last_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
