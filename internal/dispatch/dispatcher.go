// Package dispatch submits broadcasts to the email provider in rate-limited
// chunks.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const (
	// BatchSize is the provider's per-call recipient ceiling.
	BatchSize = 100

	// BatchInterval is the minimum spacing between consecutive provider
	// calls, keeping one dispatch under the provider's 2 req/sec budget.
	BatchInterval = 600 * time.Millisecond
)

// Sender issues one provider send call for a single chunk.
type Sender interface {
	Send(ctx context.Context, from string, to []string, subject, html string) (id string, err error)
}

// Result reports the outcome of one dispatch.
type Result struct {
	OK         bool
	ProviderID string
	Err        string
}

// Dispatcher partitions a recipient list into chunks and sends them in
// order, strictly in series.
type Dispatcher struct {
	sender    Sender
	logger    *slog.Logger
	limiter   *rate.Limiter
	batchSize int
}

// New creates a dispatcher with the production batch size and pacing.
func New(sender Sender, logger *slog.Logger) *Dispatcher {
	return NewWithPacing(sender, logger, BatchSize, BatchInterval)
}

// NewWithPacing is split out so tests can shrink the batch size and interval.
func NewWithPacing(sender Sender, logger *slog.Logger, batchSize int, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		sender:    sender,
		logger:    logger.With("component", "dispatcher"),
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		batchSize: batchSize,
	}
}

// Dispatch sends subject/html from the given address to every recipient in
// to, at most batchSize recipients per provider call, in input order. The
// limiter is waited out before every call, so the first chunk passes
// immediately and no delay trails the last. A chunk failure aborts the
// remaining chunks; chunks already handed to the provider stay sent. On
// success the returned provider id is the last chunk's.
func (d *Dispatcher) Dispatch(ctx context.Context, from string, to []string, subject, html string) Result {
	chunks := (len(to) + d.batchSize - 1) / d.batchSize

	var providerID string
	for i := 0; i < len(to); i += d.batchSize {
		chunk := to[i:min(i+d.batchSize, len(to))]

		if err := d.limiter.Wait(ctx); err != nil {
			return Result{Err: err.Error()}
		}

		id, err := d.send(ctx, from, chunk, subject, html)
		if err != nil {
			d.logger.Error("chunk send failed",
				"chunk", i/d.batchSize+1,
				"chunks", chunks,
				"recipients", len(chunk),
				"error", err,
			)
			return Result{Err: err.Error()}
		}
		providerID = id
	}

	return Result{OK: true, ProviderID: providerID}
}

// send isolates one provider call so a panicking provider client degrades to
// an error result instead of killing the request.
func (d *Dispatcher) send(ctx context.Context, from string, to []string, subject, html string) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	return d.sender.Send(ctx, from, to, subject, html)
}
