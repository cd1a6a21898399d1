package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/resilience"
	"github.com/sells-group/bankruptcy-monitor/pkg/anthropic"
)

// Reasoner produces a short narrative explaining a record's score. It
// never changes the score or tier.
type Reasoner interface {
	Reason(ctx context.Context, rec model.FilingRecord) (string, error)
}

// StaticReasoner returns canned text per tier.
type StaticReasoner struct{}

// Reason implements Reasoner.
func (StaticReasoner) Reason(_ context.Context, rec model.FilingRecord) (string, error) {
	return cannedReason(rec.Tier), nil
}

func cannedReason(t model.Tier) string {
	switch t {
	case model.TierHigh:
		return "High-value data asset profile"
	case model.TierMedium:
		return "Potential data assets"
	case model.TierLow:
		return "Limited data asset potential"
	default:
		return ""
	}
}

const reasonSystemPrompt = `You assess bankrupt Nordic companies for a buyer of data assets used for AI training and licensing.
The buyer is interested in:
- code: software, firmware, ML models, algorithms, APIs
- media: books, articles, images, photos, video, audio (with rights)
- cad: engineering drawings, 3D models, technical specifications
- sensor: sensor recordings, robotics data, scientific measurements
- database: annotated datasets, research databases, domain corpora

Reply with exactly one sentence on the acquisition value of the estate. No preamble.`

var countryAdjectives = map[string]string{
	"se": "Swedish",
	"no": "Norwegian",
	"dk": "Danish",
	"fi": "Finnish",
}

// AnthropicReasoner asks an Anthropic model for a one-sentence assessment.
type AnthropicReasoner struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	retry     resilience.RetryConfig
}

// ReasonerOption configures an AnthropicReasoner.
type ReasonerOption func(*AnthropicReasoner)

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) ReasonerOption {
	return func(r *AnthropicReasoner) { r.timeout = d }
}

// WithRetry sets the retry policy for transient API failures.
func WithRetry(cfg resilience.RetryConfig) ReasonerOption {
	return func(r *AnthropicReasoner) { r.retry = cfg }
}

// NewAnthropicReasoner creates an AnthropicReasoner. maxTokens <= 0 uses 150.
func NewAnthropicReasoner(client anthropic.Client, model string, maxTokens int64, opts ...ReasonerOption) *AnthropicReasoner {
	if maxTokens <= 0 {
		maxTokens = 150
	}
	r := &AnthropicReasoner{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		timeout:   30 * time.Second,
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reason implements Reasoner.
func (a *AnthropicReasoner) Reason(ctx context.Context, rec model.FilingRecord) (string, error) {
	req := anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    anthropic.CachedSystem(reasonSystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: reasonPrompt(rec)}},
	}

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return a.client.CreateMessage(callCtx, req)
	})
	if err != nil {
		return "", eris.Wrapf(err, "scoring: reason %s", rec.FilingKey().OrgNumber)
	}
	resp.Usage.LogCost(a.model, "score_reason")

	text := firstSentence(resp.Text())
	if text == "" {
		return "", eris.Errorf("scoring: reason %s: empty response", rec.FilingKey().OrgNumber)
	}
	return text, nil
}

func reasonPrompt(rec model.FilingRecord) string {
	adj, ok := countryAdjectives[rec.Country]
	if !ok {
		adj = strings.ToUpper(rec.Country)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s (%s)\n", rec.CompanyName, adj)
	fmt.Fprintf(&b, "Industry: [%s] %s\n", rec.IndustryCode, rec.IndustryName)
	fmt.Fprintf(&b, "Employees: %s\n", optional(rec.Employees))
	fmt.Fprintf(&b, "Net sales: %s\n", optional(rec.NetSales))
	fmt.Fprintf(&b, "Total assets: %s\n", optional(rec.TotalAssets))
	fmt.Fprintf(&b, "Region: %s\n", rec.Region)
	fmt.Fprintf(&b, "Rule-based tier: %s, asset tags: %s", rec.Tier, rec.AssetTypes)
	return b.String()
}

func optional[T int | int64](v *T) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprint(*v)
}

// firstSentence keeps the first line, drops a leading "REASON:" label some
// models echo back.
func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if rest, ok := strings.CutPrefix(s, "REASON:"); ok {
		s = rest
	}
	return strings.TrimSpace(s)
}

// Annotate writes ScoreReason on every scored record: the canned text
// first, replaced by r's answer when r succeeds. Failures are logged and
// leave the canned text. It returns the number of records r explained.
func Annotate(ctx context.Context, r Reasoner, recs []model.FilingRecord) int {
	log := zap.L().With(zap.String("component", "scoring"))
	explained := 0
	for i := range recs {
		rec := &recs[i]
		if rec.Tier == model.TierNone {
			continue
		}
		rec.ScoreReason = cannedReason(rec.Tier)
		if r == nil {
			continue
		}
		if _, ok := r.(StaticReasoner); ok {
			continue
		}
		if ctx.Err() != nil {
			continue
		}
		reason, err := r.Reason(ctx, *rec)
		if err != nil {
			log.Warn("reasoning failed, keeping canned reason",
				zap.String("country", rec.Country),
				zap.String("org_number", rec.OrgNumber),
				zap.Error(err),
			)
			continue
		}
		rec.ScoreReason = reason
		explained++
	}
	return explained
}
