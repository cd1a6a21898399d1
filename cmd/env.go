package main

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/bankruptcy-monitor/internal/aggregate"
	"github.com/sells-group/bankruptcy-monitor/internal/contact"
	"github.com/sells-group/bankruptcy-monitor/internal/country"
	"github.com/sells-group/bankruptcy-monitor/internal/country/dk"
	"github.com/sells-group/bankruptcy-monitor/internal/country/fi"
	"github.com/sells-group/bankruptcy-monitor/internal/country/no"
	"github.com/sells-group/bankruptcy-monitor/internal/country/se"
	"github.com/sells-group/bankruptcy-monitor/internal/fetcher"
	"github.com/sells-group/bankruptcy-monitor/internal/metrics"
	"github.com/sells-group/bankruptcy-monitor/internal/outreach"
	"github.com/sells-group/bankruptcy-monitor/internal/resilience"
	"github.com/sells-group/bankruptcy-monitor/internal/scoring"
	"github.com/sells-group/bankruptcy-monitor/internal/store"
	anthropicpkg "github.com/sells-group/bankruptcy-monitor/pkg/anthropic"
	"github.com/sells-group/bankruptcy-monitor/pkg/brave"
	"github.com/sells-group/bankruptcy-monitor/pkg/jina"
	"github.com/sells-group/bankruptcy-monitor/pkg/mailgun"
)

const userAgent = "bankruptcy-monitor/1.0 (+https://sellsgroup.com)"

func newFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  userAgent,
		Timeout:    30 * time.Second,
		MaxRetries: cfg.Run.RetryAttempts,
	})
}

// buildRegistry registers every supported country plugin.
func buildRegistry(f fetcher.Fetcher, m *metrics.Metrics) (*country.Registry, error) {
	merge := aggregate.Options{
		SourceTimeout: time.Duration(cfg.Run.SourceTimeoutSecs) * time.Second,
		Metrics:       m,
	}
	reg := country.NewRegistry()
	for _, p := range []country.Plugin{
		se.New(f, se.WithMergeOptions(merge)),
		no.New(f, no.WithMergeOptions(merge)),
		fi.New(f, fi.WithMergeOptions(merge)),
		dk.New(f, dk.WithMergeOptions(merge)),
	} {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// countryNames maps codes to display names for templates.
func countryNames(reg *country.Registry) map[string]string {
	names := make(map[string]string)
	for _, code := range reg.Codes() {
		if p, err := reg.Get(code); err == nil {
			names[code] = p.Name()
		}
	}
	return names
}

func newJinaClient() jina.Client {
	opts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL)}
	if cfg.Jina.SearchBaseURL != "" {
		opts = append(opts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	return jina.NewClient(cfg.Jina.Key, opts...)
}

// buildSearchStrategy returns the configured web-search fallback, or nil
// when search is disabled or missing credentials.
func buildSearchStrategy(f fetcher.Fetcher) contact.Strategy {
	log := zap.L().With(zap.String("component", "contact"))

	var searcher contact.Searcher
	switch cfg.Search.Provider {
	case "brave":
		if cfg.Brave.Key == "" {
			log.Warn("brave key not set, search fallback disabled")
			return nil
		}
		searcher = contact.BraveSearcher{Client: brave.NewClient(cfg.Brave.Key, brave.WithBaseURL(cfg.Brave.BaseURL))}
	case "jina":
		if cfg.Jina.Key == "" {
			log.Warn("jina key not set, search fallback disabled")
			return nil
		}
		searcher = contact.JinaSearcher{Client: newJinaClient()}
	case "", "none":
		return nil
	default:
		log.Warn("unknown search provider, search fallback disabled", zap.String("provider", cfg.Search.Provider))
		return nil
	}

	var reader contact.PageReader = contact.HTMLReader{Fetcher: f}
	if cfg.Jina.Key != "" {
		reader = contact.JinaReader{Client: newJinaClient()}
	}
	return &contact.SearchStrategy{
		Searcher:   searcher,
		Reader:     reader,
		Label:      "search:" + cfg.Search.Provider,
		MaxResults: cfg.Search.MaxResults,
		FetchPages: cfg.Search.FetchPages,
	}
}

func buildResolver(f fetcher.Fetcher, m *metrics.Metrics) *contact.Resolver {
	ccfg := contact.ChainConfig{
		Timeout: time.Duration(cfg.Run.LookupTimeoutSecs) * time.Second,
		Retry:   resilience.DefaultRetryConfig().WithAttempts(cfg.Run.RetryAttempts),
		Metrics: m,
	}
	if cfg.Search.RequestsPerSecond > 0 {
		ccfg.Limiter = rate.NewLimiter(rate.Limit(cfg.Search.RequestsPerSecond), 1)
	}
	var fallbacks []contact.Strategy
	if s := buildSearchStrategy(f); s != nil {
		fallbacks = append(fallbacks, s)
	}
	return contact.NewResolver(ccfg, cfg.Run.LookupConcurrency, fallbacks...)
}

func buildReasoner() scoring.Reasoner {
	if !cfg.Scoring.ReasoningEnabled || cfg.Anthropic.Key == "" {
		return scoring.StaticReasoner{}
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	return scoring.NewAnthropicReasoner(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens,
		scoring.WithRetry(resilience.DefaultRetryConfig().WithAttempts(cfg.Run.RetryAttempts)),
	)
}

func buildStager(st store.Store, reg *country.Registry, m *metrics.Metrics) (*outreach.Stager, error) {
	tmpl, err := outreach.LoadTemplates(cfg.Outreach.TemplateDir)
	if err != nil {
		return nil, err
	}
	return outreach.NewStager(st, tmpl, cfg.Outreach.SenderName, countryNames(reg), m,
		outreach.WithEnabled(cfg.Outreach.Enabled),
	), nil
}

// buildSender wires the Mailgun transport only when live sending is on.
func buildSender(st store.Store, m *metrics.Metrics) *outreach.Sender {
	var transport outreach.Transport
	if cfg.Outreach.Enabled && cfg.Outreach.Live {
		client := mailgun.NewClient(cfg.Mailgun.Key, cfg.Mailgun.Domain, mailgun.WithBaseURL(cfg.Mailgun.APIURL))
		transport = outreach.MailgunTransport{Client: client}
	}
	return outreach.NewSender(st, transport, outreach.SenderConfig{
		Enabled:       cfg.Outreach.Enabled,
		Live:          cfg.Outreach.Live,
		RatePerMinute: cfg.Outreach.RatePerMinute,
		From:          cfg.Outreach.From,
		ReplyTo:       cfg.Outreach.ReplyTo,
		Bcc:           cfg.Outreach.Bcc,
		Timeout:       time.Duration(cfg.Outreach.SendTimeout) * time.Second,
		Retry:         resilience.DefaultRetryConfig().WithAttempts(cfg.Run.RetryAttempts),
	}, m)
}
