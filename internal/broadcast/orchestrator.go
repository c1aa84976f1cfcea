package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mentorboard/mailcast/internal/directory"
	"github.com/mentorboard/mailcast/internal/dispatch"
)

var (
	ErrMissingSubject     = errors.New("subject is required")
	ErrMissingBody        = errors.New("body is required")
	ErrMissingFilter      = errors.New("filter kind is required")
	ErrMissingTestAddress = errors.New("test address is required in test mode")
	ErrNoRecipients       = errors.New("no subscribed recipients for this filter")
	ErrDispatch           = errors.New("dispatch failed")
)

// RecipientSource resolves broadcast candidates from the directory.
type RecipientSource interface {
	Select(ctx context.Context, kind directory.FilterKind, customEmails []string) ([]directory.Recipient, error)
}

// Dispatcher submits a resolved broadcast to the email provider.
type Dispatcher interface {
	Dispatch(ctx context.Context, from string, to []string, subject, html string) dispatch.Result
}

// LogStore persists broadcast audit records.
type LogStore interface {
	Create(ctx context.Context, e *LogEntry) error
	MarkSent(ctx context.Context, id, providerID string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// Request is one compose-and-send operation.
type Request struct {
	Subject      string
	Body         string
	FilterKind   string
	CustomEmails []string

	// TestMode replaces the resolved target list with TestAddress. The
	// filter must still resolve to a non-empty eligible set: you cannot
	// test-send a broadcast that has nobody to go to.
	TestMode    bool
	TestAddress string
}

// Receipt is returned for a dispatched broadcast.
type Receipt struct {
	ID             string `json:"id"`
	RecipientCount int    `json:"recipient_count"`
}

// Orchestrator wires recipient resolution, the subscription gate, batch
// dispatch and the audit log into the broadcast operation.
type Orchestrator struct {
	source         RecipientSource
	dispatcher     Dispatcher
	logs           LogStore
	logger         *slog.Logger
	fromAddress    string
	unsubscribeURL string
}

// NewOrchestrator creates an orchestrator. fromAddress is the envelope
// sender; unsubscribeURL is the public base URL the footer links to.
func NewOrchestrator(source RecipientSource, dispatcher Dispatcher, logs LogStore,
	logger *slog.Logger, fromAddress, unsubscribeURL string) *Orchestrator {
	return &Orchestrator{
		source:         source,
		dispatcher:     dispatcher,
		logs:           logs,
		logger:         logger.With("component", "orchestrator"),
		fromAddress:    fromAddress,
		unsubscribeURL: unsubscribeURL,
	}
}

// Broadcast validates, resolves recipients, gates on subscription, writes
// the audit record and dispatches.
//
// The log entry goes in with status pending before the first provider call,
// then flips to sent or failed afterwards, so a mid-dispatch abort always
// leaves a record of what was attempted. If marking the entry sent fails
// after a successful dispatch, the send still counts as succeeded: the mail
// is the primary effect and the audit update is secondary.
func (o *Orchestrator) Broadcast(ctx context.Context, req Request) (*Receipt, error) {
	if strings.TrimSpace(req.Subject) == "" {
		return nil, ErrMissingSubject
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, ErrMissingBody
	}
	if req.FilterKind == "" {
		return nil, ErrMissingFilter
	}
	kind, err := directory.ParseFilterKind(req.FilterKind)
	if err != nil {
		return nil, err
	}

	candidates, err := o.source.Select(ctx, kind, req.CustomEmails)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	eligible := directory.FilterSubscribed(candidates)
	if len(eligible) == 0 {
		return nil, ErrNoRecipients
	}

	var targets []string
	if req.TestMode {
		if req.TestAddress == "" {
			return nil, ErrMissingTestAddress
		}
		targets = []string{req.TestAddress}
	} else {
		targets = make([]string, 0, len(eligible))
		for _, r := range eligible {
			targets = append(targets, r.Email)
		}
	}

	entry := &LogEntry{
		Subject:         req.Subject,
		Body:            req.Body,
		Preview:         Preview(req.Body),
		FilterKind:      string(kind),
		RecipientEmails: targets,
		RecipientCount:  len(targets),
		Status:          StatusPending,
	}
	if err := o.logs.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create broadcast log: %w", err)
	}

	result := o.dispatcher.Dispatch(ctx, o.fromAddress, targets, req.Subject, req.Body+o.footer())
	if !result.OK {
		if err := o.logs.MarkFailed(ctx, entry.ID, result.Err); err != nil {
			o.logger.Error("failed to record dispatch failure", "id", entry.ID, "error", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrDispatch, result.Err)
	}

	if err := o.logs.MarkSent(ctx, entry.ID, result.ProviderID); err != nil {
		o.logger.Error("failed to mark broadcast sent",
			"id", entry.ID, "provider_id", result.ProviderID, "error", err)
	}

	o.logger.Info("broadcast dispatched",
		"id", entry.ID,
		"filter", kind,
		"recipients", len(targets),
		"test_mode", req.TestMode,
		"provider_id", result.ProviderID,
	)
	return &Receipt{ID: entry.ID, RecipientCount: len(targets)}, nil
}

// tokenPlaceholder marks where a per-recipient unsubscribe token would go.
// The footer is shared by the whole batch, so the link carries this
// placeholder rather than a personal token; personalizing it would require
// one provider call per recipient.
const tokenPlaceholder = "UNSUBSCRIBE_TOKEN"

func (o *Orchestrator) footer() string {
	link := o.unsubscribeURL + "?token=" + tokenPlaceholder
	return `<hr><p style="font-size:12px;color:#888">If you no longer wish to receive these emails, you can <a href="` +
		link + `">unsubscribe</a>.</p>`
}
