package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mentorboard/mailcast/internal/broadcast"
	"github.com/mentorboard/mailcast/internal/config"
	"github.com/mentorboard/mailcast/internal/directory"
	"github.com/mentorboard/mailcast/internal/events"
	"github.com/mentorboard/mailcast/internal/metrics"
	"github.com/mentorboard/mailcast/internal/token"
)

type fakeBroadcaster struct {
	receipt *broadcast.Receipt
	err     error
	lastReq broadcast.Request
	calls   int
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, req broadcast.Request) (*broadcast.Receipt, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.receipt, nil
}

type fakeProcessor struct {
	outcome events.Outcome
	err     error
	lastEv  events.Event
	calls   int
}

func (f *fakeProcessor) Process(ctx context.Context, ev events.Event) (events.Outcome, error) {
	f.calls++
	f.lastEv = ev
	if f.err != nil {
		return events.OutcomeIgnored, f.err
	}
	return f.outcome, nil
}

type fakeDirectory struct {
	recipients   map[string]*directory.Recipient
	unsubscribed []string
}

func newFakeDirectory(rs ...*directory.Recipient) *fakeDirectory {
	f := &fakeDirectory{recipients: map[string]*directory.Recipient{}}
	for _, r := range rs {
		f.recipients[r.ID] = r
	}
	return f
}

func (f *fakeDirectory) List(ctx context.Context, limit, offset int) ([]directory.Recipient, int, error) {
	out := []directory.Recipient{}
	for _, r := range f.recipients {
		out = append(out, *r)
	}
	return out, len(out), nil
}

func (f *fakeDirectory) GetByID(ctx context.Context, id string) (*directory.Recipient, error) {
	r, ok := f.recipients[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return r, nil
}

func (f *fakeDirectory) Unsubscribe(ctx context.Context, id string) error {
	r, ok := f.recipients[id]
	if !ok {
		return directory.ErrNotFound
	}
	r.EmailSubscribed = false
	now := time.Now()
	r.UnsubscribedAt = &now
	f.unsubscribed = append(f.unsubscribed, id)
	return nil
}

type fakeLogs struct {
	entries []broadcast.LogEntry
}

func (f *fakeLogs) List(ctx context.Context, limit, offset int) ([]broadcast.LogEntry, int, error) {
	return f.entries, len(f.entries), nil
}

func (f *fakeLogs) GetByID(ctx context.Context, id string) (*broadcast.LogEntry, error) {
	for i := range f.entries {
		if f.entries[i].ID == id {
			return &f.entries[i], nil
		}
	}
	return nil, broadcast.ErrNotFound
}

type serverFixture struct {
	server      *Server
	broadcaster *fakeBroadcaster
	processor   *fakeProcessor
	directory   *fakeDirectory
	logs        *fakeLogs
	tokens      *token.Codec
}

func setupTestServer(t *testing.T, apiKey string) *serverFixture {
	t.Helper()

	f := &serverFixture{
		broadcaster: &fakeBroadcaster{receipt: &broadcast.Receipt{ID: "log-1", RecipientCount: 3}},
		processor:   &fakeProcessor{outcome: events.OutcomeApplied},
		directory:   newFakeDirectory(),
		logs:        &fakeLogs{},
		tokens:      token.NewCodec(),
	}
	f.server = NewServer(ServerOptions{
		Config:      &config.ServerConfig{ListenAddr: ":0", APIKey: apiKey},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Broadcaster: f.broadcaster,
		Processor:   f.processor,
		Directory:   f.directory,
		Logs:        f.logs,
		Tokens:      f.tokens,
		Metrics:     metrics.New(),
	})
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := setupTestServer(t, "")
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	f := setupTestServer(t, "secret")

	rec := f.do(t, http.MethodGet, "/api/v1/broadcasts", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without key: status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/broadcasts", nil, map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusOK {
		t.Errorf("bearer: status = %d, want 200", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/broadcasts", nil, map[string]string{"X-API-Key": "secret"})
	if rec.Code != http.StatusOK {
		t.Errorf("x-api-key: status = %d, want 200", rec.Code)
	}

	// Public routes stay open.
	rec = f.do(t, http.MethodGet, "/unsubscribe/verify?token=x", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("public route: status = %d, want 200", rec.Code)
	}
}

func TestCreateBroadcast(t *testing.T) {
	f := setupTestServer(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/broadcasts", CreateBroadcastRequest{
		Subject: "News", Body: "<p>hi</p>", Filter: "admins",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decodeJSON[CreateBroadcastResponse](t, rec)
	if resp.ID != "log-1" || resp.RecipientCount != 3 || resp.Status != "sent" {
		t.Errorf("response = %+v", resp)
	}
	if f.broadcaster.lastReq.FilterKind != "admins" {
		t.Errorf("filter passed through = %q", f.broadcaster.lastReq.FilterKind)
	}
}

func TestCreateBroadcastRejections(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing subject", broadcast.ErrMissingSubject, http.StatusBadRequest},
		{"empty audience", broadcast.ErrNoRecipients, http.StatusBadRequest},
		{"unknown filter", directory.ErrUnknownFilter, http.StatusBadRequest},
		{"dispatch failure", broadcast.ErrDispatch, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestServer(t, "")
			f.broadcaster.err = tt.err

			rec := f.do(t, http.MethodPost, "/api/v1/broadcasts", CreateBroadcastRequest{
				Subject: "s", Body: "b", Filter: "all",
			}, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			resp := decodeJSON[ErrorResponse](t, rec)
			if resp.Error == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestCreateBroadcastBadBody(t *testing.T) {
	f := setupTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/broadcasts", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if f.broadcaster.calls != 0 {
		t.Error("broadcaster called for malformed body")
	}
}

func TestListBroadcasts(t *testing.T) {
	f := setupTestServer(t, "")
	f.logs.entries = []broadcast.LogEntry{
		{ID: "b1", Subject: "one", Status: broadcast.StatusSent},
		{ID: "b2", Subject: "two", Status: broadcast.StatusDelivered},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/broadcasts?limit=10", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeJSON[struct {
		Broadcasts []broadcast.LogEntry `json:"broadcasts"`
		Total      int                  `json:"total"`
	}](t, rec)
	if len(resp.Broadcasts) != 2 || resp.Total != 2 {
		t.Errorf("response = %+v", resp)
	}
}

func TestGetBroadcast(t *testing.T) {
	f := setupTestServer(t, "")
	f.logs.entries = []broadcast.LogEntry{{ID: "b1", Subject: "one"}}

	rec := f.do(t, http.MethodGet, "/api/v1/broadcasts/b1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/broadcasts/missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", rec.Code)
	}
}

func TestWebhook(t *testing.T) {
	f := setupTestServer(t, "")

	body := map[string]any{
		"type": "opened",
		"data": map[string]any{"email_id": "em_1"},
	}
	rec := f.do(t, http.MethodPost, "/webhooks/email", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.processor.lastEv.Type != events.TypeOpened || f.processor.lastEv.ProviderID != "em_1" {
		t.Errorf("processed event = %+v", f.processor.lastEv)
	}
	resp := decodeJSON[map[string]string](t, rec)
	if resp["status"] != "applied" {
		t.Errorf("status field = %q", resp["status"])
	}
}

func TestWebhookMalformedIsAcknowledged(t *testing.T) {
	f := setupTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/email", bytes.NewReader([]byte("garbage")))
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (the provider must not see a failure)", rec.Code)
	}
	if f.processor.calls != 0 {
		t.Error("processor called for a malformed payload")
	}
}

func TestWebhookStoreErrorReturns500(t *testing.T) {
	f := setupTestServer(t, "")
	f.processor.err = io.ErrUnexpectedEOF

	body := map[string]any{"type": "sent", "data": map[string]any{"email_id": "em_1"}}
	rec := f.do(t, http.MethodPost, "/webhooks/email", body, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 so the provider redelivers", rec.Code)
	}
}

func TestUnsubscribeFlow(t *testing.T) {
	f := setupTestServer(t, "")
	f.directory.recipients["r1"] = &directory.Recipient{
		ID: "r1", Email: "r1@example.com", EmailSubscribed: true, IsActive: true,
	}

	tok, err := f.tokens.Mint("r1", token.DefaultTTL)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/unsubscribe/verify?token="+tok, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}
	verify := decodeJSON[UnsubscribeVerifyResponse](t, rec)
	if !verify.Valid || verify.Recipient == nil || verify.Recipient.ID != "r1" {
		t.Errorf("verify response = %+v", verify)
	}

	rec = f.do(t, http.MethodPost, "/unsubscribe", map[string]string{"token": tok}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unsubscribe status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(f.directory.unsubscribed) != 1 || f.directory.unsubscribed[0] != "r1" {
		t.Errorf("unsubscribed = %v", f.directory.unsubscribed)
	}
	if f.directory.recipients["r1"].EmailSubscribed {
		t.Error("subscription flag still set")
	}
	if f.directory.recipients["r1"].UnsubscribedAt == nil {
		t.Error("unsubscribe timestamp not set")
	}
}

func TestUnsubscribeInvalidToken(t *testing.T) {
	f := setupTestServer(t, "")

	rec := f.do(t, http.MethodGet, "/unsubscribe/verify?token=garbage", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}
	verify := decodeJSON[UnsubscribeVerifyResponse](t, rec)
	if verify.Valid || verify.Recipient != nil {
		t.Errorf("verify response = %+v", verify)
	}

	rec = f.do(t, http.MethodPost, "/unsubscribe", map[string]string{"token": "garbage"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsubscribe status = %d, want 400", rec.Code)
	}

	// A well-formed token for a recipient that no longer exists behaves the
	// same as a bad token.
	tok, _ := f.tokens.Mint("ghost", token.DefaultTTL)
	rec = f.do(t, http.MethodPost, "/unsubscribe", map[string]string{"token": tok}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ghost recipient: status = %d, want 400", rec.Code)
	}
}
