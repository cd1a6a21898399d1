package outreach

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bankruptcy-monitor/internal/metrics"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/store"
)

// Stager creates pending outreach entries for resolved records.
type Stager struct {
	store     store.Store
	templates *Templates
	sender    string
	// countryNames maps a country code to its display name.
	countryNames map[string]string
	metrics      *metrics.Metrics
	enabled      bool
}

// StagerOption configures a Stager.
type StagerOption func(*Stager)

// WithEnabled turns staging on. A Stager is inert until enabled.
func WithEnabled(on bool) StagerOption {
	return func(s *Stager) { s.enabled = on }
}

// NewStager creates a Stager. sender signs every message.
func NewStager(st store.Store, t *Templates, sender string, countryNames map[string]string, m *metrics.Metrics, opts ...StagerOption) *Stager {
	s := &Stager{store: st, templates: t, sender: sender, countryNames: countryNames, metrics: m}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stage creates a pending entry for every HIGH or MEDIUM record with a
// trustee address. A disabled Stager creates nothing. Opted-out recipients and recipients already staged for
// the same filing are skipped. It returns the number of entries created.
func (s *Stager) Stage(ctx context.Context, recs []model.FilingRecord) (int, error) {
	log := zap.L().With(zap.String("component", "outreach"))
	if !s.enabled {
		log.Debug("outreach disabled, nothing staged", zap.Int("records", len(recs)))
		return 0, nil
	}

	staged := 0
	perCountry := make(map[string]int)
	for _, rec := range recs {
		if rec.TrusteeEmail == "" || !rec.Tier.IsOutreachCandidate() {
			continue
		}
		opted, err := s.store.IsOptedOut(ctx, rec.TrusteeEmail)
		if err != nil {
			return staged, eris.Wrap(err, "outreach: check opt-out")
		}
		if opted {
			log.Info("recipient opted out, not staging",
				zap.String("country", rec.Country),
				zap.String("org_number", rec.OrgNumber),
			)
			continue
		}

		subject, body, err := s.templates.Render(LanguageFor(rec.Country), TemplateData{
			CompanyName: rec.CompanyName,
			OrgNumber:   rec.OrgNumber,
			TrusteeName: rec.TrusteeName,
			Country:     rec.Country,
			CountryName: s.countryName(rec.Country),
			FilingDate:  rec.FilingDate.Format(model.DateLayout),
			Sender:      s.sender,
		})
		if err != nil {
			return staged, err
		}

		created, err := s.store.StageOutreach(ctx, model.OutreachEntry{
			Country:     rec.Country,
			OrgNumber:   rec.IdentityNumber(),
			FilingDate:  rec.FilingDate,
			Recipient:   rec.TrusteeEmail,
			CompanyName: rec.CompanyName,
			TrusteeName: rec.TrusteeName,
			Subject:     subject,
			Body:        body,
		})
		if err != nil {
			return staged, eris.Wrapf(err, "outreach: stage %s", rec.CompanyName)
		}
		if created {
			staged++
			perCountry[rec.Country]++
		}
	}
	for c, n := range perCountry {
		s.metrics.AddStaged(c, n)
	}
	return staged, nil
}

func (s *Stager) countryName(code string) string {
	if n, ok := s.countryNames[code]; ok {
		return n
	}
	return code
}
