package mailgun

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Signature is the signature block of a webhook payload.
type Signature struct {
	Timestamp string `json:"timestamp"`
	Token     string `json:"token"`
	Signature string `json:"signature"`
}

// WebhookEvent is the JSON body Mailgun posts for an event.
type WebhookEvent struct {
	Signature Signature `json:"signature"`
	EventData EventData `json:"event-data"`
}

// EventData carries the event fields we act on.
type EventData struct {
	ID        string  `json:"id"`
	Event     string  `json:"event"`
	Severity  string  `json:"severity"`
	Reason    string  `json:"reason"`
	Recipient string  `json:"recipient"`
	Timestamp float64 `json:"timestamp"`
	Message   struct {
		Headers struct {
			MessageID string `json:"message-id"`
		} `json:"headers"`
	} `json:"message"`
	UserVariables map[string]string `json:"user-variables"`
}

// MessageID returns the provider id the event refers to.
func (e EventData) MessageID() string {
	return NormalizeMessageID(e.Message.Headers.MessageID)
}

// IsBounce reports whether the event is a delivery failure.
func (e EventData) IsBounce() bool {
	return e.Event == "failed" || e.Event == "bounced"
}

// IsPermanent reports whether the failure should never be retried: the
// address should be suppressed.
func (e EventData) IsPermanent() bool {
	return e.Event == "bounced" || (e.Event == "failed" && e.Severity == "permanent")
}

// VerifyWebhook checks a webhook signature: the hex HMAC-SHA256 of
// timestamp+token keyed with the signing key.
func VerifyWebhook(signingKey, timestamp, token, signature string) bool {
	if signingKey == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(timestamp + token))
	want := mac.Sum(nil)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// Fresh reports whether a webhook timestamp (unix seconds) is within
// maxAge of now. Replayed payloads fail this check.
func Fresh(timestamp string, now time.Time, maxAge time.Duration) bool {
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(secs, 0))
	if age < 0 {
		age = -age
	}
	return age <= maxAge
}

// Sign computes the signature for timestamp and token. Used by tests and
// local tooling that replays events.
func Sign(signingKey, timestamp, token string) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(timestamp + token))
	return hex.EncodeToString(mac.Sum(nil))
}
