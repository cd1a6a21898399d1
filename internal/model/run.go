package model

import "time"

// RunStatus is the terminal (or current) state of a scrape run.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusOK          RunStatus = "ok"
	RunStatusNoRecords   RunStatus = "no_records"
	RunStatusFilteredOut RunStatus = "filtered_out"
	RunStatusFailed      RunStatus = "failed"
)

// Message returns the operator-facing description of a status.
func (s RunStatus) Message() string {
	switch s {
	case RunStatusNoRecords:
		return "no bankruptcies found"
	case RunStatusFilteredOut:
		return "filtered out — check filter settings"
	case RunStatusFailed:
		return "run failed"
	case RunStatusRunning:
		return "running"
	default:
		return "ok"
	}
}

// ScrapeRun is the audit record of one country pipeline execution.
type ScrapeRun struct {
	ID         string     `json:"id"`
	Country    string     `json:"country"`
	Year       int        `json:"year"`
	Month      int        `json:"month"`
	Status     RunStatus  `json:"status"`
	Scraped    int        `json:"scraped"`
	New        int        `json:"new"`
	Scored     int        `json:"scored"`
	Contacts   int        `json:"contacts"`
	Staged     int        `json:"staged"`
	Reported   int        `json:"reported"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
