package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bankruptcy-monitor/internal/config"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func addRun(t *testing.T, st store.Store, country string, status model.RunStatus, started time.Time) {
	t.Helper()
	ctx := context.Background()
	run := &model.ScrapeRun{Country: country, Year: 2025, Month: 3, StartedAt: started}
	require.NoError(t, st.StartRun(ctx, run))
	if status == model.RunStatusRunning {
		return
	}
	run.Status = status
	require.NoError(t, st.FinishRun(ctx, run))
}

func stage(t *testing.T, st store.Store, org, recipient string) model.OutreachEntry {
	t.Helper()
	ctx := context.Background()
	ok, err := st.StageOutreach(ctx, model.OutreachEntry{
		Country:     "se",
		OrgNumber:   org,
		FilingDate:  model.Date(2025, 3, 4),
		Recipient:   recipient,
		CompanyName: "Test AB",
		Subject:     "s",
		Body:        "b",
	})
	require.NoError(t, err)
	require.True(t, ok)
	list, err := st.ListOutreach(ctx, store.OutreachQuery{})
	require.NoError(t, err)
	for _, e := range list {
		if e.OrgNumber == org {
			return e
		}
	}
	t.Fatalf("staged entry %s not found", org)
	return model.OutreachEntry{}
}

func TestCollector_Collect(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	addRun(t, st, "se", model.RunStatusOK, now.Add(-2*time.Hour))
	addRun(t, st, "se", model.RunStatusFailed, now.Add(-time.Hour))
	addRun(t, st, "no", model.RunStatusNoRecords, now.Add(-3*time.Hour))
	addRun(t, st, "dk", model.RunStatusFilteredOut, now.Add(-4*time.Hour))
	addRun(t, st, "fi", model.RunStatusRunning, now.Add(-time.Minute))
	// Outside the window.
	addRun(t, st, "fi", model.RunStatusFailed, now.Add(-100*time.Hour))

	failed := stage(t, st, "1", "a@firm.se")
	require.NoError(t, st.TransitionOutreach(ctx, failed.ID, model.OutreachPending, model.OutreachApproved, store.OutreachUpdate{}))
	require.NoError(t, st.TransitionOutreach(ctx, failed.ID, model.OutreachApproved, model.OutreachFailed, store.OutreachUpdate{LastError: "boom"}))

	blocked := stage(t, st, "2", "b@firm.se")
	require.NoError(t, st.TransitionOutreach(ctx, blocked.ID, model.OutreachPending, model.OutreachApproved, store.OutreachUpdate{}))
	require.NoError(t, st.AddOptOut(ctx, "B@firm.se", "asked"))

	stage(t, st, "3", "c@firm.se")

	snap, err := NewCollector(st).Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.Runs)
	assert.Equal(t, 4, snap.FinishedRuns)
	assert.Equal(t, 1, snap.FailedRuns)
	assert.InDelta(t, 0.25, snap.FailureRate, 0.001)
	assert.Equal(t, 1, snap.FailedSends)
	assert.Equal(t, 1, snap.BlockedApproved)
	assert.Equal(t, 1, snap.PendingOutreach)
	assert.Equal(t, 24, snap.LookbackHours)

	se := snap.Countries["se"]
	assert.Equal(t, 2, se.Runs)
	assert.Equal(t, 1, se.Failed)
	assert.Equal(t, string(model.RunStatusFailed), se.LastStatus)
	assert.Equal(t, 1, snap.Countries["no"].NoRecords)
	assert.Equal(t, 1, snap.Countries["dk"].FilteredOut)
	assert.Equal(t, 1, snap.Countries["fi"].Runs)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(newTestStore(t)).Collect(context.Background(), 744)
	require.NoError(t, err)
	assert.Zero(t, snap.Runs)
	assert.Zero(t, snap.FailureRate)
	assert.Empty(t, snap.Countries)
}

func TestAlerter_Evaluate(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.5}

	tests := []struct {
		name string
		snap Snapshot
		want []AlertType
	}{
		{
			name: "healthy",
			snap: Snapshot{Runs: 4, FinishedRuns: 4},
		},
		{
			name: "failure rate over threshold",
			snap: Snapshot{
				FinishedRuns: 4, FailedRuns: 3, FailureRate: 0.75,
				Countries: map[string]CountryHealth{"se": {Failed: 3}, "no": {}},
			},
			want: []AlertType{AlertCountryFailureRate},
		},
		{
			name: "too few runs to judge",
			snap: Snapshot{FinishedRuns: 2, FailedRuns: 2, FailureRate: 1},
		},
		{
			name: "rate equal to threshold",
			snap: Snapshot{FinishedRuns: 4, FailedRuns: 2, FailureRate: 0.5},
		},
		{
			name: "send failures",
			snap: Snapshot{FailedSends: 2},
			want: []AlertType{AlertOutreachSendFailures},
		},
		{
			name: "both",
			snap: Snapshot{FinishedRuns: 3, FailedRuns: 3, FailureRate: 1, FailedSends: 1},
			want: []AlertType{AlertCountryFailureRate, AlertOutreachSendFailures},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := NewAlerter(cfg).Evaluate(&tt.snap)
			var got []AlertType
			for _, a := range alerts {
				got = append(got, a.Type)
				assert.NotEmpty(t, a.Message)
				assert.False(t, a.Timestamp.IsZero())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlerter_FailureRateDetails(t *testing.T) {
	alerts := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.1}).Evaluate(&Snapshot{
		FinishedRuns: 3, FailedRuns: 1, FailureRate: 1.0 / 3,
		Countries: map[string]CountryHealth{"se": {Failed: 1}, "no": {Runs: 2}},
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, map[string]int{"se": 1}, alerts[0].Details["countries"])
}

type webhookSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *webhookSink) handler(t *testing.T, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var a Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		s.mu.Lock()
		s.alerts = append(s.alerts, a)
		s.mu.Unlock()
		w.WriteHeader(status)
	}
}

func TestAlerter_SendAlerts(t *testing.T) {
	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler(t, http.StatusOK))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertOutreachSendFailures, Severity: "medium", Message: "x"},
		{Type: AlertCountryFailureRate, Severity: "high", Message: "y"},
	})
	assert.Equal(t, 2, sent)
	require.Len(t, sink.alerts, 2)
	assert.Equal(t, AlertOutreachSendFailures, sink.alerts[0].Type)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertCountryRunFailed}}))
}

func TestAlerter_SendAlerts_ServerError(t *testing.T) {
	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler(t, http.StatusInternalServerError))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertCountryRunFailed}}))
	assert.Len(t, sink.alerts, 1)
}

func TestAlerter_CountryFailed(t *testing.T) {
	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler(t, http.StatusOK))
	defer srv.Close()

	NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL}).
		CountryFailed(context.Background(), "dk", "run-1", errors.New("source down"))

	require.Len(t, sink.alerts, 1)
	got := sink.alerts[0]
	assert.Equal(t, AlertCountryRunFailed, got.Type)
	assert.Contains(t, got.Message, "dk")
	assert.Contains(t, got.Message, "source down")
	assert.Equal(t, "run-1", got.Details["run_id"])
}

func TestChecker_Check(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		addRun(t, st, "se", model.RunStatusFailed, now.Add(-time.Duration(i+1)*time.Hour))
	}

	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler(t, http.StatusOK))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, FailureRateThreshold: 0.5, LookbackHours: 24}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	triggered, sent := checker.Check(context.Background())
	assert.Equal(t, 1, triggered)
	assert.Equal(t, 1, sent)
	require.Len(t, sink.alerts, 1)
	assert.Equal(t, AlertCountryFailureRate, sink.alerts[0].Type)
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackHours: 24, FailureRateThreshold: 0.5}
	checker := NewChecker(NewCollector(newTestStore(t)), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	cfg := config.MonitoringConfig{}
	checker := NewChecker(NewCollector(newTestStore(t)), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
