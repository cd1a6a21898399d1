package contact

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/bankruptcy-monitor/internal/country"
	"github.com/sells-group/bankruptcy-monitor/internal/metrics"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/resilience"
)

type stubStrategy struct {
	name  string
	fn    func(ctx context.Context, q Query) (string, error)
	calls atomic.Int32
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Lookup(ctx context.Context, q Query) (string, error) {
	s.calls.Add(1)
	return s.fn(ctx, q)
}

func returns(email string, err error) func(context.Context, Query) (string, error) {
	return func(context.Context, Query) (string, error) { return email, err }
}

var fastRetry = resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

func TestChain_FirstHitWins(t *testing.T) {
	t.Parallel()

	first := &stubStrategy{name: "first", fn: returns("", nil)}
	second := &stubStrategy{name: "second", fn: returns(" Anna.Berg@ost.se ", nil)}
	third := &stubStrategy{name: "third", fn: returns("lars@ost.se", nil)}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := NewChain(ChainConfig{Retry: fastRetry, Metrics: m}, first, nil, second, third)
	assert.Equal(t, []string{"first", "second", "third"}, c.Strategies())

	email, by := c.Lookup(context.Background(), annaQuery)
	assert.Equal(t, "anna.berg@ost.se", email)
	assert.Equal(t, "second", by)
	assert.Equal(t, int32(0), third.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContactLookups.WithLabelValues("first", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContactLookups.WithLabelValues("second", "found")))
}

func TestChain_ErrorsAreMisses(t *testing.T) {
	t.Parallel()

	failing := &stubStrategy{name: "failing", fn: returns("", errors.New("boom"))}
	implausible := &stubStrategy{name: "implausible", fn: returns("info@ost.se", nil)}
	c := NewChain(ChainConfig{Retry: fastRetry}, failing, implausible)

	email, by := c.Lookup(context.Background(), annaQuery)
	assert.Empty(t, email)
	assert.Empty(t, by)
	assert.Equal(t, int32(1), failing.calls.Load(), "permanent errors are not retried")
}

func TestChain_RetriesTransient(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	flaky := &stubStrategy{name: "flaky", fn: func(context.Context, Query) (string, error) {
		if n.Add(1) == 1 {
			return "", resilience.NewTransientError(errors.New("503"), 503)
		}
		return "anna.berg@ost.se", nil
	}}
	c := NewChain(ChainConfig{Retry: fastRetry}, flaky)

	email, _ := c.Lookup(context.Background(), annaQuery)
	assert.Equal(t, "anna.berg@ost.se", email)
	assert.Equal(t, int32(2), flaky.calls.Load())
}

func TestChain_TimeoutPerAttempt(t *testing.T) {
	t.Parallel()

	slow := &stubStrategy{name: "slow", fn: func(ctx context.Context, _ Query) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	fast := &stubStrategy{name: "fast", fn: returns("anna.berg@ost.se", nil)}
	c := NewChain(ChainConfig{Timeout: 20 * time.Millisecond, Retry: resilience.RetryConfig{MaxAttempts: 1}}, slow, fast)

	email, by := c.Lookup(context.Background(), annaQuery)
	assert.Equal(t, "anna.berg@ost.se", email)
	assert.Equal(t, "fast", by)
}

func TestChain_BreakerSkipsStrategy(t *testing.T) {
	t.Parallel()

	failing := &stubStrategy{name: "failing", fn: returns("", errors.New("down"))}
	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := NewChain(ChainConfig{Retry: resilience.RetryConfig{MaxAttempts: 1}, Breakers: breakers, Metrics: m}, failing)

	for range 4 {
		c.Lookup(context.Background(), annaQuery)
	}
	assert.Equal(t, int32(2), failing.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ContactLookups.WithLabelValues("failing", "skipped")))
}

func TestChain_CancelledContext(t *testing.T) {
	t.Parallel()

	s := &stubStrategy{name: "s", fn: returns("anna.berg@ost.se", nil)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	email, _ := NewChain(ChainConfig{}, s).Lookup(ctx, annaQuery)
	assert.Empty(t, email)
	assert.Equal(t, int32(0), s.calls.Load())
}

func TestChain_SharedLimiter(t *testing.T) {
	t.Parallel()

	s := &stubStrategy{name: "s", fn: returns("", nil)}
	lim := rate.NewLimiter(rate.Every(20*time.Millisecond), 1)
	c := NewChain(ChainConfig{Limiter: lim}, s)

	start := time.Now()
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Lookup(context.Background(), annaQuery)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
	assert.Equal(t, int32(3), s.calls.Load())
}

// lookupPlugin is a country.Plugin whose only live method is the lookup.
type lookupPlugin struct {
	country.Plugin
	code  string
	email map[string]string
	calls atomic.Int32
}

func (p *lookupPlugin) Code() string { return p.code }

func (p *lookupPlugin) LookupTrusteeEmail(_ context.Context, name, _ string) (string, error) {
	p.calls.Add(1)
	return p.email[name], nil
}

func TestPluginStrategy(t *testing.T) {
	t.Parallel()

	p := &lookupPlugin{code: "se", email: map[string]string{"Anna Berg": "anna.berg@ost.se"}}
	s := PluginStrategy{Plugin: p}
	assert.Equal(t, "plugin:se", s.Name())

	got, err := s.Lookup(context.Background(), annaQuery)
	require.NoError(t, err)
	assert.Equal(t, "anna.berg@ost.se", got)
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	p := &lookupPlugin{code: "se", email: map[string]string{"Anna Berg": "anna.berg@ost.se"}}
	fallback := &stubStrategy{name: "search", fn: func(_ context.Context, q Query) (string, error) {
		if q.TrusteeName == "Lars Ek" {
			return "lars.ek@ekbyra.se", nil
		}
		return "", nil
	}}

	recs := []*model.FilingRecord{
		{Country: "se", CompanyName: "A AB", Tier: model.TierHigh, TrusteeName: "Anna Berg", TrusteeFirm: "Advokatfirman Öst"},
		{Country: "se", CompanyName: "B AB", Tier: model.TierMedium, TrusteeName: "anna berg", TrusteeFirm: "ADVOKATFIRMAN ÖST"},
		{Country: "se", CompanyName: "C AB", Tier: model.TierHigh, TrusteeName: "Lars Ek", TrusteeFirm: "Ek Byrå"},
		{Country: "se", CompanyName: "D AB", Tier: model.TierLow, TrusteeName: "Lars Ek", TrusteeFirm: "Ek Byrå"},
		{Country: "se", CompanyName: "E AB", Tier: model.TierHigh},
		{Country: "se", CompanyName: "F AB", Tier: model.TierHigh, TrusteeName: "Okänd", TrusteeFirm: "X"},
		{Country: "se", CompanyName: "G AB", Tier: model.TierHigh, TrusteeName: "Eva Sund", TrusteeEmail: "eva@sund.se"},
	}

	r := NewResolver(ChainConfig{Retry: fastRetry}, 10, fallback)
	n := r.Resolve(context.Background(), recs, p)

	assert.Equal(t, 3, n)
	assert.Equal(t, "anna.berg@ost.se", recs[0].TrusteeEmail)
	assert.Equal(t, "anna.berg@ost.se", recs[1].TrusteeEmail)
	assert.Equal(t, "lars.ek@ekbyra.se", recs[2].TrusteeEmail)
	assert.Empty(t, recs[3].TrusteeEmail, "LOW tier is not resolved")
	assert.Empty(t, recs[4].TrusteeEmail)
	assert.Empty(t, recs[5].TrusteeEmail)
	assert.Equal(t, "eva@sund.se", recs[6].TrusteeEmail)

	// Anna's pair is looked up once; Lars and Okänd reach the plugin and fall through.
	assert.Equal(t, int32(3), p.calls.Load())
	assert.Equal(t, int32(2), fallback.calls.Load())
}

func TestResolver_ConcurrencyClamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, NewResolver(ChainConfig{}, 0).concurrency)
	assert.Equal(t, 3, NewResolver(ChainConfig{}, 3).concurrency)
	assert.Equal(t, 5, NewResolver(ChainConfig{}, 50).concurrency)
}

func TestResolver_BoundedParallelism(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	s := &stubStrategy{name: "s", fn: func(context.Context, Query) (string, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return "", nil
	}}

	var recs []*model.FilingRecord
	for _, name := range []string{"Aa Bb", "Cc Dd", "Ee Ff", "Gg Hh", "Ii Jj", "Kk Ll", "Mm Nn", "Oo Pp"} {
		recs = append(recs, &model.FilingRecord{Country: "fi", Tier: model.TierHigh, TrusteeName: name})
	}

	r := NewResolver(ChainConfig{}, 2, s)
	assert.Zero(t, r.Resolve(context.Background(), recs, nil))
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(8), s.calls.Load())
}
