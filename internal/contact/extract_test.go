package contact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		hints Hints
		want  string
	}{
		{
			name: "single personal address",
			text: "Kontakta Anna Berg på anna.berg@ost.se.",
			want: "anna.berg@ost.se",
		},
		{
			name:  "name match beats earlier personal address",
			text:  "lars.ek@ost.se, anna.berg@ost.se",
			hints: Hints{Name: "Berg, Anna"},
			want:  "anna.berg@ost.se",
		},
		{
			name:  "folded name matches",
			text:  "reception@firma.dk sbjorn@firma.dk soeren@firma.dk s.norgaard@firma.dk",
			hints: Hints{Name: "Søren Nørgaard"},
			want:  "s.norgaard@firma.dk",
		},
		{
			name: "personal beats generic",
			text: "kontakt@ost.se anna@ost.se",
			want: "anna@ost.se",
		},
		{
			name: "generic allowed as last resort",
			text: "Skriv till kontakt@ost.se",
			want: "kontakt@ost.se",
		},
		{
			name: "denied addresses dropped",
			text: "info@ost.se noreply@ost.se no-reply@x.se donotreply@x.se admin@x.se webmaster@x.se postmaster@x.se test@x.se",
			want: "",
		},
		{
			name: "denied domains dropped",
			text: "a@example.com b@sentry.io c@sentry-next.wixpress.com d@google.com e@schema.org",
			want: "",
		},
		{
			name: "asset filenames are not addresses",
			text: "logo@2x.png anna@ost.se",
			want: "anna@ost.se",
		},
		{
			name: "case folded",
			text: "Anna.Berg@OST.se",
			want: "anna.berg@ost.se",
		},
		{
			name: "empty",
			text: "no addresses here",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExtractEmail(tt.text, tt.hints))
		})
	}
}

func TestCandidates_Dedup(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"anna@ost.se", "lars@ost.se"},
		Candidates("anna@ost.se ANNA@ost.se lars@ost.se anna@ost.se"))
}

func TestPlausible(t *testing.T) {
	t.Parallel()

	assert.True(t, Plausible("anna.berg@ost.se"))
	assert.True(t, Plausible(" Anna.Berg@ost.se "))
	assert.False(t, Plausible("info@ost.se"))
	assert.False(t, Plausible("anna.berg@ost"))
	assert.False(t, Plausible("anna berg@ost.se"))
	assert.False(t, Plausible("a@ost.se, b@ost.se"))
	assert.False(t, Plausible(""))
}
