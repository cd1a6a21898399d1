package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/store"
	"github.com/sells-group/bankruptcy-monitor/pkg/mailgun"
)

// maxWebhookBody caps the webhook payload size.
const maxWebhookBody = 1 << 20

// handleMailgunWebhook marks sent entries bounced on permanent delivery
// failures and opts the recipient out. Unknown messages and other events
// are acknowledged so Mailgun does not retry them.
func (h *Handler) handleMailgunWebhook(w http.ResponseWriter, r *http.Request) {
	log := zap.L().With(zap.String("component", "api.webhook"))

	var evt mailgun.WebhookEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sig := evt.Signature
	if !mailgun.VerifyWebhook(h.signingKey, sig.Timestamp, sig.Token, sig.Signature) {
		log.Warn("rejected webhook with bad signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	if !mailgun.Fresh(sig.Timestamp, h.now(), h.maxAge) {
		log.Warn("rejected stale webhook", zap.String("timestamp", sig.Timestamp))
		writeError(w, http.StatusUnauthorized, "stale signature")
		return
	}

	data := evt.EventData
	if !data.IsBounce() || !data.IsPermanent() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	msgID := data.MessageID()
	if msgID == "" {
		msgID = data.UserVariables["outreach_id"]
	}
	reason := data.Reason
	if reason == "" {
		reason = data.Event
	}

	recipient := data.Recipient
	status := "bounced"
	e, err := h.machine.MarkBounced(r.Context(), msgID, reason)
	switch {
	case err == nil:
		recipient = e.Recipient
	case errors.Is(err, store.ErrNotFound):
		status = "unknown"
	case errors.Is(err, model.ErrIllegalTransition), errors.Is(err, store.ErrConflict):
		status = "ignored"
	default:
		h.fail(w, r, err)
		return
	}

	if recipient != "" {
		if err := h.store.AddOptOut(r.Context(), recipient, "bounce: "+reason); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	log.Info("bounce processed",
		zap.String("message_id", msgID),
		zap.String("status", status),
		zap.String("event", data.Event),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
