package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ErrIllegalTransition is returned for a status change the outreach state
// machine does not allow.
var ErrIllegalTransition = eris.New("illegal outreach transition")

// OutreachStatus is the state of an outreach entry.
type OutreachStatus string

const (
	OutreachPending  OutreachStatus = "pending"
	OutreachApproved OutreachStatus = "approved"
	OutreachRejected OutreachStatus = "rejected"
	OutreachSent     OutreachStatus = "sent"
	OutreachFailed   OutreachStatus = "failed"
	OutreachBounced  OutreachStatus = "bounced"
)

// AllOutreachStatuses lists every state in lifecycle order.
var AllOutreachStatuses = []OutreachStatus{
	OutreachPending, OutreachApproved, OutreachRejected,
	OutreachSent, OutreachFailed, OutreachBounced,
}

// Valid reports whether s is a known status.
func (s OutreachStatus) Valid() bool {
	for _, v := range AllOutreachStatuses {
		if s == v {
			return true
		}
	}
	return false
}

var transitions = map[OutreachStatus][]OutreachStatus{
	OutreachPending:  {OutreachApproved, OutreachRejected},
	OutreachApproved: {OutreachSent, OutreachFailed, OutreachRejected},
	OutreachFailed:   {OutreachApproved},
	OutreachSent:     {OutreachBounced},
}

// CanTransition reports whether from -> to is a legal edge of the outreach
// state machine. rejected and bounced are terminal; failed only leaves via
// a manual reset to approved.
func CanTransition(from, to OutreachStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OutreachEntry is one staged or sent outreach message.
type OutreachEntry struct {
	ID          string         `json:"id"`
	Country     string         `json:"country"`
	OrgNumber   string         `json:"org_number"`
	FilingDate  time.Time      `json:"filing_date"`
	Recipient   string         `json:"recipient"`
	CompanyName string         `json:"company_name"`
	TrusteeName string         `json:"trustee_name,omitempty"`
	Subject     string         `json:"subject"`
	Body        string         `json:"body"`
	Status      OutreachStatus `json:"status"`
	// Simulated marks a sent entry that was recorded while live delivery was
	// disabled. No message left the system.
	Simulated  bool       `json:"simulated"`
	ProviderID string     `json:"provider_id,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

// OptOut is an address that must never receive outreach.
type OptOut struct {
	Email     string    `json:"email"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
