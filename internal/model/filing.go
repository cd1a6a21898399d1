package model

import "time"

// DateLayout is the storage and display layout for filing dates.
const DateLayout = "2006-01-02"

// Tier is the priority band assigned by the scoring engine.
type Tier string

const (
	TierHigh   Tier = "HIGH"
	TierMedium Tier = "MEDIUM"
	TierLow    Tier = "LOW"
	TierNone   Tier = ""
)

// Rank orders tiers for presentation: HIGH < MEDIUM < LOW < unscored.
func (t Tier) Rank() int {
	switch t {
	case TierHigh:
		return 0
	case TierMedium:
		return 1
	case TierLow:
		return 2
	default:
		return 3
	}
}

// IsOutreachCandidate reports whether records in this tier get contact
// resolution and outreach staging.
func (t Tier) IsOutreachCandidate() bool {
	return t == TierHigh || t == TierMedium
}

// String returns the tier name, or "-" when unscored.
func (t Tier) String() string {
	if t == TierNone {
		return "-"
	}
	return string(t)
}

// FilingRecord is one bankruptcy announcement.
type FilingRecord struct {
	Country        string    `json:"country"`
	CompanyName    string    `json:"company_name"`
	OrgNumber      string    `json:"org_number"`
	FilingDate     time.Time `json:"filing_date"`
	Court          string    `json:"court,omitempty"`
	IndustryCode   string    `json:"industry_code,omitempty"`
	IndustryName   string    `json:"industry_name,omitempty"`
	TrusteeName    string    `json:"trustee_name,omitempty"`
	TrusteeFirm    string    `json:"trustee_firm,omitempty"`
	TrusteeAddress string    `json:"trustee_address,omitempty"`
	Employees      *int      `json:"employees,omitempty"`
	NetSales       *int64    `json:"net_sales,omitempty"`
	TotalAssets    *int64    `json:"total_assets,omitempty"`
	Region         string    `json:"region,omitempty"`

	Score       *int   `json:"score,omitempty"`
	Tier        Tier   `json:"tier,omitempty"`
	AssetTypes  string `json:"asset_types,omitempty"`
	ScoreReason string `json:"score_reason,omitempty"`

	// TrusteeEmail is empty until contact resolution succeeds.
	TrusteeEmail string `json:"trustee_email,omitempty"`

	Source      string    `json:"source,omitempty"`
	FallbackKey bool      `json:"fallback_key,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// FilingKey returns the identity of the real-world filing.
func (r FilingRecord) FilingKey() FilingKey {
	return FilingKey{
		Country:    r.Country,
		OrgNumber:  r.IdentityNumber(),
		FilingDate: r.FilingDate.Format(DateLayout),
	}
}

// IdentityNumber is the org number used in persisted keys. Records without
// one fall back to the normalized company name behind NamePrefix.
func (r FilingRecord) IdentityNumber() string {
	if r.OrgNumber != "" {
		return r.OrgNumber
	}
	return NamePrefix + NormalizeName(r.CompanyName)
}

// RecordKey returns the persisted identity, which includes the contact.
func (r FilingRecord) RecordKey() RecordKey {
	return RecordKey{FilingKey: r.FilingKey(), TrusteeEmail: r.TrusteeEmail}
}

// InMonth reports whether the filing date falls in the given year and month.
func (r FilingRecord) InMonth(year, month int) bool {
	return r.FilingDate.Year() == year && int(r.FilingDate.Month()) == month
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// Date builds a UTC date with no time component.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date (extra trailing characters such as a
// time component are ignored).
func ParseDate(s string) (time.Time, bool) {
	if len(s) < len(DateLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, s[:len(DateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
