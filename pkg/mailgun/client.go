// Package mailgun provides a client for the Mailgun messages API and
// helpers for its event webhooks.
package mailgun

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bankruptcy-monitor/internal/resilience"
)

// DefaultBaseURL is the EU region API root.
const DefaultBaseURL = "https://api.eu.mailgun.net/v3"

// Client defines the Mailgun operations used for outreach.
type Client interface {
	// Send queues a message and returns the provider message id.
	Send(ctx context.Context, msg Message) (string, error)
}

// Message is one outgoing plain-text email.
type Message struct {
	From    string
	To      string
	ReplyTo string
	// Bcc, when set, receives a blind copy.
	Bcc     string
	Subject string
	Text    string
	// Tags are attached as o:tag for event filtering.
	Tags []string
	// Variables are attached as v: custom variables and echoed on webhooks.
	Variables map[string]string
	// TestMode asks Mailgun to accept but not deliver the message.
	TestMode bool
}

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Option configures the Mailgun client.
type Option func(*httpClient)

// WithBaseURL sets the API root (region or test server).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	domain  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Mailgun client for a sending domain.
func NewClient(apiKey, domain string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		domain:  domain,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", eris.New("mailgun: missing recipient")
	}
	form := url.Values{}
	form.Set("from", msg.From)
	form.Set("to", msg.To)
	form.Set("subject", msg.Subject)
	form.Set("text", msg.Text)
	if msg.ReplyTo != "" {
		form.Set("h:Reply-To", msg.ReplyTo)
	}
	if msg.Bcc != "" {
		form.Set("bcc", msg.Bcc)
	}
	for _, tag := range msg.Tags {
		form.Add("o:tag", tag)
	}
	for k, v := range msg.Variables {
		form.Set("v:"+k, v)
	}
	if msg.TestMode {
		form.Set("o:testmode", "yes")
	}

	endpoint := c.baseURL + "/" + url.PathEscape(c.domain) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "mailgun: create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "mailgun: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "mailgun: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return "", resilience.StatusError("mailgun", resp.StatusCode, body)
	}

	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", eris.Wrap(err, "mailgun: unmarshal response")
	}
	if out.ID == "" {
		return "", eris.Errorf("mailgun: response without message id: %s", out.Message)
	}
	return NormalizeMessageID(out.ID), nil
}

// NormalizeMessageID strips the angle brackets Mailgun puts around ids in
// the send response. Webhook payloads carry the bare form.
func NormalizeMessageID(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}
