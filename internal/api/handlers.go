package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mentorboard/mailcast/internal/broadcast"
	"github.com/mentorboard/mailcast/internal/directory"
	"github.com/mentorboard/mailcast/internal/events"
)

// maxWebhookBody caps provider webhook payloads.
const maxWebhookBody = 1 << 20

// CreateBroadcastRequest is the request body for POST /api/v1/broadcasts.
type CreateBroadcastRequest struct {
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	Filter       string   `json:"filter"`
	CustomEmails []string `json:"custom_emails,omitempty"`
	TestMode     bool     `json:"test_mode,omitempty"`
	TestAddress  string   `json:"test_address,omitempty"`
}

// CreateBroadcastResponse is the response for a dispatched broadcast.
type CreateBroadcastResponse struct {
	ID             string `json:"id"`
	RecipientCount int    `json:"recipient_count"`
	Status         string `json:"status"`
}

// ErrorResponse is the error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var req CreateBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receipt, err := s.broadcaster.Broadcast(r.Context(), broadcast.Request{
		Subject:      req.Subject,
		Body:         req.Body,
		FilterKind:   req.Filter,
		CustomEmails: req.CustomEmails,
		TestMode:     req.TestMode,
		TestAddress:  req.TestAddress,
	})
	if err != nil {
		switch {
		case isRejection(err):
			s.countBroadcast("rejected")
			s.sendError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, broadcast.ErrDispatch):
			s.countBroadcast("failed")
			s.sendError(w, http.StatusBadGateway, err.Error())
		default:
			s.logger.Error("broadcast failed", "error", err)
			s.countBroadcast("failed")
			s.sendError(w, http.StatusInternalServerError, "Internal error")
		}
		return
	}

	s.countBroadcast("sent")
	if s.metrics != nil {
		s.metrics.EmailsDispatched.Add(float64(receipt.RecipientCount))
	}
	s.sendJSON(w, http.StatusOK, CreateBroadcastResponse{
		ID:             receipt.ID,
		RecipientCount: receipt.RecipientCount,
		Status:         string(broadcast.StatusSent),
	})
}

// isRejection classifies caller mistakes that map to HTTP 400.
func isRejection(err error) bool {
	return errors.Is(err, broadcast.ErrMissingSubject) ||
		errors.Is(err, broadcast.ErrMissingBody) ||
		errors.Is(err, broadcast.ErrMissingFilter) ||
		errors.Is(err, broadcast.ErrMissingTestAddress) ||
		errors.Is(err, broadcast.ErrNoRecipients) ||
		errors.Is(err, directory.ErrUnknownFilter)
}

func (s *Server) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)

	entries, total, err := s.logs.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list broadcasts", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"broadcasts": entries,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

func (s *Server) handleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	entry, err := s.logs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, broadcast.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Broadcast not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get broadcast", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	s.sendJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)

	recipients, total, err := s.directory.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list recipients", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"recipients": recipients,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

// handleWebhook consumes provider delivery events. Malformed payloads and
// events the processor does not act on are acknowledged with 200: the
// provider must never see a failure for a benign no-op. Only store failures
// return 5xx, which makes the provider redeliver.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.sendError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	ev, err := events.Parse(body)
	if err != nil {
		s.logger.Debug("ignoring malformed webhook", "error", err)
		s.countWebhook("malformed", string(events.OutcomeIgnored))
		s.sendJSON(w, http.StatusOK, map[string]string{"status": string(events.OutcomeIgnored)})
		return
	}

	outcome, err := s.processor.Process(r.Context(), ev)
	if err != nil {
		s.logger.Error("failed to process webhook event", "type", ev.Type, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	s.countWebhook(string(ev.Type), string(outcome))
	s.sendJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

// UnsubscribeVerifyResponse is the response for GET /unsubscribe/verify.
type UnsubscribeVerifyResponse struct {
	Valid     bool                 `json:"valid"`
	Recipient *directory.Recipient `json:"recipient,omitempty"`
}

func (s *Server) handleUnsubscribeVerify(w http.ResponseWriter, r *http.Request) {
	res := s.tokens.Verify(r.URL.Query().Get("token"))
	if !res.Valid {
		s.sendJSON(w, http.StatusOK, UnsubscribeVerifyResponse{})
		return
	}

	recipient, err := s.directory.GetByID(r.Context(), res.RecipientID)
	if errors.Is(err, directory.ErrNotFound) {
		s.sendJSON(w, http.StatusOK, UnsubscribeVerifyResponse{})
		return
	}
	if err != nil {
		s.logger.Error("failed to load recipient", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	s.sendJSON(w, http.StatusOK, UnsubscribeVerifyResponse{Valid: true, Recipient: recipient})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res := s.tokens.Verify(req.Token)
	if !res.Valid {
		s.sendError(w, http.StatusBadRequest, "Invalid or expired link")
		return
	}

	err := s.directory.Unsubscribe(r.Context(), res.RecipientID)
	if errors.Is(err, directory.ErrNotFound) {
		s.sendError(w, http.StatusBadRequest, "Invalid or expired link")
		return
	}
	if err != nil {
		s.logger.Error("failed to unsubscribe recipient", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	if s.metrics != nil {
		s.metrics.UnsubscribesTotal.Inc()
	}
	s.logger.Info("recipient unsubscribed", "recipient_id", res.RecipientID)
	s.sendJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}

func (s *Server) countBroadcast(outcome string) {
	if s.metrics != nil {
		s.metrics.BroadcastsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) countWebhook(eventType, outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
