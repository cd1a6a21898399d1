package scoring

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/resilience"
	"github.com/sells-group/bankruptcy-monitor/pkg/anthropic"
)

type fakeClient struct {
	calls int
	reqs  []anthropic.MessageRequest
	resp  *anthropic.MessageResponse
	err   error
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls++
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

func TestStaticReasoner(t *testing.T) {
	r := StaticReasoner{}
	for tier, want := range map[model.Tier]string{
		model.TierHigh:   "High-value data asset profile",
		model.TierMedium: "Potential data assets",
		model.TierLow:    "Limited data asset potential",
		model.TierNone:   "",
	} {
		got, err := r.Reason(context.Background(), model.FilingRecord{Tier: tier})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAnthropicReasoner_Reason(t *testing.T) {
	fc := &fakeClient{resp: textResponse("REASON: Years of licensed photo archives.\nSCORE:9")}
	r := NewAnthropicReasoner(fc, "claude-haiku-4-5-20251001", 0)

	rec := model.FilingRecord{
		Country: "se", CompanyName: "Bildbyrån AB", OrgNumber: "556677-8899",
		IndustryCode: "74201", IndustryName: "Porträttfotografering",
		Employees: model.IntPtr(4), Tier: model.TierHigh, AssetTypes: "media",
	}
	got, err := r.Reason(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "Years of licensed photo archives.", got)

	require.Len(t, fc.reqs, 1)
	req := fc.reqs[0]
	assert.Equal(t, "claude-haiku-4-5-20251001", req.Model)
	assert.Equal(t, int64(150), req.MaxTokens)
	require.Len(t, req.System, 1)
	assert.NotNil(t, req.System[0].CacheControl)
	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, "Bildbyrån AB (Swedish)")
	assert.Contains(t, prompt, "Employees: 4")
	assert.Contains(t, prompt, "Net sales: unknown")
	assert.Contains(t, prompt, "asset tags: media")
}

func TestAnthropicReasoner_Errors(t *testing.T) {
	noRetry := WithRetry(resilience.RetryConfig{MaxAttempts: 1})

	fc := &fakeClient{err: errors.New("invalid x-api-key")}
	_, err := NewAnthropicReasoner(fc, "m", 50, noRetry).Reason(context.Background(), model.FilingRecord{OrgNumber: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring: reason 1")
	assert.Equal(t, 1, fc.calls)

	empty := &fakeClient{resp: textResponse("   ")}
	_, err = NewAnthropicReasoner(empty, "m", 50, noRetry).Reason(context.Background(), model.FilingRecord{OrgNumber: "1"})
	assert.Error(t, err)
}

func TestAnthropicReasoner_RetriesTransient(t *testing.T) {
	fc := &fakeClient{err: resilience.NewTransientError(errors.New("overloaded"), 529)}
	r := NewAnthropicReasoner(fc, "m", 50, WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: 1}))

	_, err := r.Reason(context.Background(), model.FilingRecord{OrgNumber: "1"})
	require.Error(t, err)
	assert.Equal(t, 2, fc.calls)
}

type scriptedReasoner struct {
	fail map[string]bool
}

func (s scriptedReasoner) Reason(_ context.Context, rec model.FilingRecord) (string, error) {
	if s.fail[rec.CompanyName] {
		return "", errors.New("boom")
	}
	return "model says " + strings.ToLower(rec.CompanyName), nil
}

func TestAnnotate(t *testing.T) {
	recs := []model.FilingRecord{
		{CompanyName: "Kod AB", Tier: model.TierHigh},
		{CompanyName: "Trasig AB", Tier: model.TierMedium},
		{CompanyName: "Okänd AB"},
	}
	n := Annotate(context.Background(), scriptedReasoner{fail: map[string]bool{"Trasig AB": true}}, recs)

	assert.Equal(t, 1, n)
	assert.Equal(t, "model says kod ab", recs[0].ScoreReason)
	assert.Equal(t, "Potential data assets", recs[1].ScoreReason, "failure keeps canned text")
	assert.Empty(t, recs[2].ScoreReason, "unscored records are not annotated")
	assert.Equal(t, model.TierMedium, recs[1].Tier)
}

func TestAnnotate_StaticAndNil(t *testing.T) {
	recs := []model.FilingRecord{{Tier: model.TierLow}}
	assert.Zero(t, Annotate(context.Background(), StaticReasoner{}, recs))
	assert.Equal(t, "Limited data asset potential", recs[0].ScoreReason)

	recs = []model.FilingRecord{{Tier: model.TierHigh}}
	assert.Zero(t, Annotate(context.Background(), nil, recs))
	assert.Equal(t, "High-value data asset profile", recs[0].ScoreReason)
}

func TestFirstSentence(t *testing.T) {
	assert.Equal(t, "One.", firstSentence("  One.\nTwo."))
	assert.Equal(t, "Tagged.", firstSentence("REASON: Tagged."))
	assert.Empty(t, firstSentence(""))
}
