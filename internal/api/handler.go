// Package api exposes outreach review, sending and the Mailgun event
// webhook over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/outreach"
	"github.com/sells-group/bankruptcy-monitor/internal/store"
)

// Handler serves the outreach and record endpoints.
type Handler struct {
	machine    *outreach.Machine
	sender     *outreach.Sender
	store      store.Store
	signingKey string
	maxAge     time.Duration
	now        func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithWebhookSigningKey sets the Mailgun webhook signing key. Without one
// every webhook call is rejected.
func WithWebhookSigningKey(key string) Option {
	return func(h *Handler) { h.signingKey = key }
}

// WithWebhookMaxAge bounds how old a signed webhook timestamp may be.
func WithWebhookMaxAge(d time.Duration) Option {
	return func(h *Handler) { h.maxAge = d }
}

// NewHandler creates a Handler. sender may be nil, which disables
// POST /outreach/send.
func NewHandler(st store.Store, machine *outreach.Machine, sender *outreach.Sender, opts ...Option) *Handler {
	h := &Handler{
		machine: machine,
		sender:  sender,
		store:   st,
		maxAge:  15 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/outreach", func(r chi.Router) {
		r.Get("/", h.handleListOutreach)
		r.Post("/send", h.handleSend)
		r.Get("/{id}", h.handleGetOutreach)
		r.Post("/{id}/approve", h.handleApprove)
		r.Post("/{id}/reject", h.handleReject)
		r.Post("/{id}/reset", h.handleReset)
	})
	r.Post("/optout", h.handleOptOut)
	r.Get("/records", h.handleListRecords)
	r.Post("/webhooks/mailgun", h.handleMailgunWebhook)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListOutreach(w http.ResponseWriter, r *http.Request) {
	q := store.OutreachQuery{
		Status:  model.OutreachStatus(r.URL.Query().Get("status")),
		Country: strings.ToLower(r.URL.Query().Get("country")),
	}
	if q.Status != "" && !q.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(q.Status)))
		return
	}
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	q.Limit = limit

	entries, err := h.store.ListOutreach(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.OutreachEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleGetOutreach(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.GetOutreach(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type approveRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	e, err := h.machine.Approve(r.Context(), chi.URLParam(r, "id"), req.Body, req.Subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	e, err := h.machine.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	e, err := h.machine.Reset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "sending is not configured")
		return
	}
	sum, err := h.sender.SendApproved(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type optOutRequest struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

func (h *Handler) handleOptOut(w http.ResponseWriter, r *http.Request) {
	var req optOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := h.store.AddOptOut(r.Context(), req.Email, req.Reason); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"email": strings.ToLower(strings.TrimSpace(req.Email))})
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := store.RecordQuery{
		Country: strings.ToLower(r.URL.Query().Get("country")),
		Tier:    model.Tier(strings.ToUpper(r.URL.Query().Get("tier"))),
	}
	var ok bool
	if q.Year, ok = intParam(w, r, "year"); !ok {
		return
	}
	if q.Month, ok = intParam(w, r, "month"); !ok {
		return
	}
	if q.Limit, ok = intParam(w, r, "limit"); !ok {
		return
	}

	recs, err := h.store.ListRecords(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.FilingRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// intParam reads an optional non-negative integer query parameter. On a
// bad value it writes a 400 and returns false.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

// fail maps domain errors to statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, model.ErrIllegalTransition), errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
