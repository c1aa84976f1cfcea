package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

// fakeSender records every chunk it is asked to send.
type fakeSender struct {
	calls   [][]string
	starts  []time.Time
	failAt  int // 1-based chunk index to fail at, 0 = never
	panicAt int // 1-based chunk index to panic at, 0 = never
}

func (f *fakeSender) Send(ctx context.Context, from string, to []string, subject, html string) (string, error) {
	f.starts = append(f.starts, time.Now())
	call := make([]string, len(to))
	copy(call, to)
	f.calls = append(f.calls, call)

	n := len(f.calls)
	if f.panicAt != 0 && n == f.panicAt {
		panic("provider client blew up")
	}
	if f.failAt != 0 && n == f.failAt {
		return "", errors.New("rate limit exceeded")
	}
	return fmt.Sprintf("msg-%d", n), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func addresses(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("r%d@example.com", i)
	}
	return out
}

func TestDispatchBatchingArithmetic(t *testing.T) {
	tests := []struct {
		recipients int
		batchSize  int
		wantCalls  int
	}{
		{1, 100, 1},
		{99, 100, 1},
		{100, 100, 1},
		{101, 100, 2},
		{250, 100, 3},
		{7, 3, 3},
	}

	for _, tt := range tests {
		sender := &fakeSender{}
		d := NewWithPacing(sender, testLogger(), tt.batchSize, time.Millisecond)

		to := addresses(tt.recipients)
		res := d.Dispatch(context.Background(), "noreply@example.com", to, "subj", "<p>hi</p>")
		if !res.OK {
			t.Fatalf("n=%d: dispatch failed: %s", tt.recipients, res.Err)
		}
		if len(sender.calls) != tt.wantCalls {
			t.Errorf("n=%d: %d provider calls, want %d", tt.recipients, len(sender.calls), tt.wantCalls)
		}

		// The concatenation of all chunks must equal the input, in order.
		var joined []string
		for _, call := range sender.calls {
			if len(call) > tt.batchSize {
				t.Errorf("n=%d: chunk of %d exceeds batch size %d", tt.recipients, len(call), tt.batchSize)
			}
			joined = append(joined, call...)
		}
		if len(joined) != len(to) {
			t.Fatalf("n=%d: %d addresses sent, want %d", tt.recipients, len(joined), len(to))
		}
		for i := range to {
			if joined[i] != to[i] {
				t.Fatalf("n=%d: address %d = %q, want %q", tt.recipients, i, joined[i], to[i])
			}
		}

		if res.ProviderID != fmt.Sprintf("msg-%d", tt.wantCalls) {
			t.Errorf("n=%d: provider id = %q, want last chunk's", tt.recipients, res.ProviderID)
		}
	}
}

func TestDispatchInterBatchDelay(t *testing.T) {
	const interval = 60 * time.Millisecond

	sender := &fakeSender{}
	d := NewWithPacing(sender, testLogger(), 2, interval)

	start := time.Now()
	res := d.Dispatch(context.Background(), "noreply@example.com", addresses(6), "subj", "body")
	elapsed := time.Since(start)
	if !res.OK {
		t.Fatalf("dispatch failed: %s", res.Err)
	}
	if len(sender.starts) != 3 {
		t.Fatalf("%d provider calls, want 3", len(sender.starts))
	}

	for i := 1; i < len(sender.starts); i++ {
		gap := sender.starts[i].Sub(sender.starts[i-1])
		if gap < interval {
			t.Errorf("gap between call %d and %d = %v, want >= %v", i, i+1, gap, interval)
		}
	}

	// No trailing delay after the final chunk: the whole dispatch should
	// take roughly two intervals, not three.
	if elapsed >= 3*interval {
		t.Errorf("dispatch took %v, suggesting a delay after the last chunk", elapsed)
	}
}

func TestDispatchFirstChunkImmediate(t *testing.T) {
	sender := &fakeSender{}
	d := NewWithPacing(sender, testLogger(), 10, time.Second)

	start := time.Now()
	res := d.Dispatch(context.Background(), "noreply@example.com", addresses(3), "subj", "body")
	if !res.OK {
		t.Fatalf("dispatch failed: %s", res.Err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("single-chunk dispatch waited %v before the first call", elapsed)
	}
}

func TestDispatchAbortsOnChunkFailure(t *testing.T) {
	sender := &fakeSender{failAt: 2}
	d := NewWithPacing(sender, testLogger(), 2, time.Millisecond)

	res := d.Dispatch(context.Background(), "noreply@example.com", addresses(8), "subj", "body")
	if res.OK {
		t.Fatal("dispatch reported success despite a failed chunk")
	}
	if res.Err != "rate limit exceeded" {
		t.Errorf("error = %q, want the provider's message", res.Err)
	}
	if len(sender.calls) != 2 {
		t.Errorf("%d provider calls, want 2 (no chunks after the failure)", len(sender.calls))
	}
	if res.ProviderID != "" {
		t.Errorf("provider id = %q, want empty on failure", res.ProviderID)
	}
}

func TestDispatchRecoversProviderPanic(t *testing.T) {
	sender := &fakeSender{panicAt: 1}
	d := NewWithPacing(sender, testLogger(), 100, time.Millisecond)

	res := d.Dispatch(context.Background(), "noreply@example.com", addresses(3), "subj", "body")
	if res.OK {
		t.Fatal("dispatch reported success despite a panicking provider")
	}
	if res.Err == "" {
		t.Error("panic was not converted into an error result")
	}
}

func TestDispatchHonorsCancellation(t *testing.T) {
	sender := &fakeSender{}
	d := NewWithPacing(sender, testLogger(), 1, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := d.Dispatch(ctx, "noreply@example.com", addresses(3), "subj", "body")
	if res.OK {
		t.Fatal("dispatch reported success after cancellation")
	}
	if len(sender.calls) > 1 {
		t.Errorf("%d provider calls after cancellation, want at most 1", len(sender.calls))
	}
}
