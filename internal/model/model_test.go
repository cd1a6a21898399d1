package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierRank(t *testing.T) {
	t.Parallel()

	assert.Less(t, TierHigh.Rank(), TierMedium.Rank())
	assert.Less(t, TierMedium.Rank(), TierLow.Rank())
	assert.Less(t, TierLow.Rank(), TierNone.Rank())
	assert.Equal(t, 3, Tier("bogus").Rank())
}

func TestTierIsOutreachCandidate(t *testing.T) {
	t.Parallel()

	assert.True(t, TierHigh.IsOutreachCandidate())
	assert.True(t, TierMedium.IsOutreachCandidate())
	assert.False(t, TierLow.IsOutreachCandidate())
	assert.False(t, TierNone.IsOutreachCandidate())
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to OutreachStatus
		want     bool
	}{
		{OutreachPending, OutreachApproved, true},
		{OutreachPending, OutreachRejected, true},
		{OutreachPending, OutreachSent, false},
		{OutreachPending, OutreachFailed, false},
		{OutreachApproved, OutreachSent, true},
		{OutreachApproved, OutreachFailed, true},
		{OutreachApproved, OutreachRejected, true},
		{OutreachApproved, OutreachPending, false},
		{OutreachRejected, OutreachApproved, false},
		{OutreachRejected, OutreachSent, false},
		{OutreachFailed, OutreachApproved, true},
		{OutreachFailed, OutreachSent, false},
		{OutreachSent, OutreachBounced, true},
		{OutreachSent, OutreachSent, false},
		{OutreachSent, OutreachApproved, false},
		{OutreachBounced, OutreachSent, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestSentOnlyReachableFromApproved(t *testing.T) {
	t.Parallel()

	for _, from := range AllOutreachStatuses {
		if from == OutreachApproved {
			continue
		}
		assert.False(t, CanTransition(from, OutreachSent), "from %s", from)
	}
}

func TestOutreachStatusValid(t *testing.T) {
	t.Parallel()

	assert.True(t, OutreachBounced.Valid())
	assert.False(t, OutreachStatus("queued").Valid())
}

func TestNormalizeOrgNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		country, raw, want string
	}{
		{"se", "556677-8899", "556677-8899"},
		{"se", "5566778899", "556677-8899"},
		{"se", "16556677-8899", "556677-8899"},
		{"se", " 556677 8899 ", "556677-8899"},
		{"se", "N/A", ""},
		{"se", "-", ""},
		{"se", "", ""},
		{"no", "912 345 678", "912345678"},
		{"fi", "1234567-8", "1234567-8"},
		{"fi", "12345678", "1234567-8"},
		{"dk", "CVR 12345678", "12345678"},
		{"xx", "abc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.country+"/"+tt.raw, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeOrgNumber(tt.country, tt.raw))
		})
	}
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, want string
	}{
		{"Test AB", "test"},
		{"TEST Aktiebolag", "test"},
		{"Söderström & Co AB (publ)", "soderstrom co"},
		{"Bjørn Bygg AS", "bjorn bygg"},
		{"Nørre Data A/S", "norre data"},
		{"Kahvila Äijä Oy", "kahvila aija"},
		{"  Multiple   Spaces  ApS ", "multiple spaces"},
		{"AB", "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeName(tt.name))
		})
	}
}

func TestMergeKey(t *testing.T) {
	t.Parallel()

	key, fallback := MergeKey(FilingRecord{OrgNumber: "556677-8899", CompanyName: "Test AB"})
	assert.Equal(t, "org:556677-8899", key)
	assert.False(t, fallback)

	key, fallback = MergeKey(FilingRecord{CompanyName: "Tëst AB"})
	assert.Equal(t, "name:test", key)
	assert.True(t, fallback)

	a, _ := MergeKey(FilingRecord{CompanyName: "Ålands Media Aktiebolag"})
	b, _ := MergeKey(FilingRecord{CompanyName: "ALANDS MEDIA AB"})
	assert.Equal(t, a, b)
}

func TestKeySet(t *testing.T) {
	t.Parallel()

	r := FilingRecord{Country: "se", OrgNumber: "556677-8899", FilingDate: Date(2025, 3, 4)}
	s := NewKeySet(r.FilingKey())
	assert.True(t, s.Has(FilingKey{Country: "se", OrgNumber: "556677-8899", FilingDate: "2025-03-04"}))
	assert.False(t, s.Has(FilingKey{Country: "no", OrgNumber: "556677-8899", FilingDate: "2025-03-04"}))

	var empty KeySet
	assert.False(t, empty.Has(r.FilingKey()))
}

func TestFilingKeyFallsBackToName(t *testing.T) {
	t.Parallel()

	r := FilingRecord{Country: "dk", CompanyName: "Bager Hansen I/S", FilingDate: Date(2025, 2, 1)}
	assert.Equal(t, "name:bager hansen", r.FilingKey().OrgNumber)

	org, fallback := OrgFromIdentity(r.IdentityNumber())
	assert.Empty(t, org)
	assert.True(t, fallback)

	org, fallback = OrgFromIdentity("12345678")
	assert.Equal(t, "12345678", org)
	assert.False(t, fallback)
}

func TestRecordKeyIncludesEmail(t *testing.T) {
	t.Parallel()

	a := FilingRecord{Country: "se", OrgNumber: "1", FilingDate: Date(2025, 1, 2)}
	b := a
	b.TrusteeEmail = "anna@firm.se"
	assert.Equal(t, a.FilingKey(), b.FilingKey())
	assert.NotEqual(t, a.RecordKey(), b.RecordKey())
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	d, ok := ParseDate("2025-03-04T10:00:00Z")
	assert.True(t, ok)
	assert.Equal(t, Date(2025, 3, 4), d)

	_, ok = ParseDate("03/04/2025")
	assert.False(t, ok)
	_, ok = ParseDate("")
	assert.False(t, ok)
}

func TestInMonth(t *testing.T) {
	t.Parallel()

	r := FilingRecord{FilingDate: Date(2025, 1, 31)}
	assert.True(t, r.InMonth(2025, 1))
	assert.False(t, r.InMonth(2025, 2))
	assert.False(t, r.InMonth(2024, 1))
}

func TestRunStatusMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "filtered out — check filter settings", RunStatusFilteredOut.Message())
	assert.NotEqual(t, RunStatusNoRecords.Message(), RunStatusFilteredOut.Message())
}
