package outreach

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/bankruptcy-monitor/internal/metrics"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/resilience"
	"github.com/sells-group/bankruptcy-monitor/internal/store"
	"github.com/sells-group/bankruptcy-monitor/pkg/mailgun"
)

// Message is one email handed to a Transport.
type Message struct {
	OutreachID string
	Country    string
	From       string
	To         string
	ReplyTo    string
	Bcc        string
	Subject    string
	Body       string
}

// Transport delivers a message and returns the provider message id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// MailgunTransport delivers through the Mailgun messages API.
type MailgunTransport struct {
	Client mailgun.Client
}

// Send implements Transport.
func (t MailgunTransport) Send(ctx context.Context, msg Message) (string, error) {
	return t.Client.Send(ctx, mailgun.Message{
		From:      msg.From,
		To:        msg.To,
		ReplyTo:   msg.ReplyTo,
		Bcc:       msg.Bcc,
		Subject:   msg.Subject,
		Text:      msg.Body,
		Tags:      []string{"outreach", msg.Country},
		Variables: map[string]string{"outreach_id": msg.OutreachID},
	})
}

// SenderConfig holds the two safety gates and delivery settings.
type SenderConfig struct {
	// Enabled gates the whole send step. When false SendApproved is inert.
	Enabled bool
	// Live gates the transport. When false approved entries are recorded
	// as simulated sends and nothing leaves the system.
	Live          bool
	RatePerMinute int
	From          string
	ReplyTo       string
	// Bcc receives a blind copy of every live message when set.
	Bcc string
	// Timeout bounds one delivery attempt. Default: 30s.
	Timeout time.Duration
	Retry   resilience.RetryConfig
}

// SendSummary counts the outcomes of one send pass.
type SendSummary struct {
	Sent      int `json:"sent"`
	Simulated int `json:"simulated"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
}

// Sender delivers approved entries.
type Sender struct {
	store     store.Store
	transport Transport
	cfg       SenderConfig
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
}

// NewSender creates a Sender. transport may be nil when Live is false.
func NewSender(st store.Store, transport Transport, cfg SenderConfig, m *metrics.Metrics) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 10
	}
	return &Sender{
		store:     st,
		transport: transport,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1),
		metrics:   m,
	}
}

// SendApproved delivers every approved entry. Only approved entries are
// selected, so pending and rejected entries are never sent, and the
// approved -> sent swap removes an entry from the next selection.
func (s *Sender) SendApproved(ctx context.Context) (SendSummary, error) {
	log := zap.L().With(zap.String("component", "outreach"))
	var sum SendSummary

	if !s.cfg.Enabled {
		log.Info("outreach disabled, nothing sent")
		return sum, nil
	}
	if s.cfg.Live && s.transport == nil {
		return sum, eris.New("outreach: live sending without a transport")
	}

	entries, err := s.store.ListOutreach(ctx, store.OutreachQuery{Status: model.OutreachApproved})
	if err != nil {
		return sum, eris.Wrap(err, "outreach: list approved")
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		elog := log.With(zap.String("outreach_id", e.ID), zap.String("country", e.Country))

		opted, err := s.store.IsOptedOut(ctx, e.Recipient)
		if err != nil {
			return sum, eris.Wrap(err, "outreach: check opt-out")
		}
		if opted {
			elog.Warn("recipient opted out, send blocked")
			sum.Blocked++
			s.metrics.IncSend("blocked")
			continue
		}

		if !s.cfg.Live {
			if err := s.store.TransitionOutreach(ctx, e.ID, model.OutreachApproved, model.OutreachSent,
				store.OutreachUpdate{Simulated: true}); err != nil {
				elog.Warn("simulated send not recorded", zap.Error(err))
				continue
			}
			elog.Info("dry run: send simulated", zap.String("recipient", e.Recipient))
			sum.Simulated++
			s.metrics.IncSend("simulated")
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return sum, err
		}
		providerID, sendErr := resilience.Call(ctx, resilience.Guard{Timeout: s.cfg.Timeout, Retry: s.cfg.Retry},
			func(ctx context.Context) (string, error) {
				return s.transport.Send(ctx, Message{
					OutreachID: e.ID,
					Country:    e.Country,
					From:       s.cfg.From,
					To:         e.Recipient,
					ReplyTo:    s.cfg.ReplyTo,
					Bcc:        s.cfg.Bcc,
					Subject:    e.Subject,
					Body:       e.Body,
				})
			})
		if sendErr != nil {
			elog.Error("send failed", zap.Error(sendErr))
			sum.Failed++
			s.metrics.IncSend("failed")
			if err := s.store.TransitionOutreach(ctx, e.ID, model.OutreachApproved, model.OutreachFailed,
				store.OutreachUpdate{LastError: sendErr.Error()}); err != nil {
				elog.Warn("failed send not recorded", zap.Error(err))
			}
			continue
		}

		if err := s.recordSent(ctx, e.ID, providerID); err != nil {
			if !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
				// The entry stays approved. Stop before more sends go unrecorded.
				elog.Error("sent message not recorded, stopping pass", zap.String("provider_id", providerID), zap.Error(err))
				return sum, eris.Wrapf(err, "outreach: record sent %s (provider id %s)", e.ID, providerID)
			}
			// Another operator moved the entry first. The message still left.
			elog.Warn("sent message not recorded", zap.String("provider_id", providerID), zap.Error(err))
		}
		elog.Info("outreach sent", zap.String("provider_id", providerID))
		sum.Sent++
		s.metrics.IncSend("sent")
	}

	log.Info("send pass complete",
		zap.Int("sent", sum.Sent),
		zap.Int("simulated", sum.Simulated),
		zap.Int("failed", sum.Failed),
		zap.Int("blocked", sum.Blocked),
	)
	return sum, nil
}

// recordSent swaps approved -> sent, retrying store errors other than a
// lost race or a missing entry.
func (s *Sender) recordSent(ctx context.Context, id, providerID string) error {
	retry := s.cfg.Retry
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, store.ErrConflict) &&
			!errors.Is(err, store.ErrNotFound) &&
			!errors.Is(err, model.ErrIllegalTransition)
	}
	retry.OnRetry = resilience.RetryLogger("store", "record_sent")
	return resilience.Do(ctx, retry, func(ctx context.Context) error {
		return s.store.TransitionOutreach(ctx, id, model.OutreachApproved, model.OutreachSent,
			store.OutreachUpdate{ProviderID: providerID})
	})
}
