// Package outreach stages, approves and sends trustee messages. Every
// status change goes through the store's compare-and-swap transition, so
// the state machine holds even with concurrent operators.
package outreach

import (
	"context"
	"errors"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/store"
)

// ErrIllegalTransition is returned for a status change the state machine
// does not allow.
var ErrIllegalTransition = model.ErrIllegalTransition

// Machine applies operator actions to outreach entries.
type Machine struct {
	store store.Store
	log   *zap.Logger
}

// NewMachine creates a Machine over st.
func NewMachine(st store.Store) *Machine {
	return &Machine{store: st, log: zap.L().With(zap.String("component", "outreach"))}
}

// Approve moves a pending entry to approved. Non-empty body or subject
// replace the staged text.
func (m *Machine) Approve(ctx context.Context, id, body, subject string) (*model.OutreachEntry, error) {
	return m.transition(ctx, id, model.OutreachApproved, store.OutreachUpdate{Subject: subject, Body: body}, model.OutreachPending)
}

// Reject moves a pending or approved entry to rejected.
func (m *Machine) Reject(ctx context.Context, id string) (*model.OutreachEntry, error) {
	return m.transition(ctx, id, model.OutreachRejected, store.OutreachUpdate{})
}

// Reset returns a failed entry to approved so the next send retries it.
func (m *Machine) Reset(ctx context.Context, id string) (*model.OutreachEntry, error) {
	return m.transition(ctx, id, model.OutreachApproved, store.OutreachUpdate{}, model.OutreachFailed)
}

// MarkBounced moves a sent entry to bounced. ref is the entry id or the
// provider message id.
func (m *Machine) MarkBounced(ctx context.Context, ref, reason string) (*model.OutreachEntry, error) {
	e, err := m.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	return m.transition(ctx, e.ID, model.OutreachBounced, store.OutreachUpdate{LastError: reason})
}

func (m *Machine) find(ctx context.Context, ref string) (*model.OutreachEntry, error) {
	e, err := m.store.GetOutreach(ctx, ref)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return e, err
	}
	byProvider, lerr := m.store.ListOutreach(ctx, store.OutreachQuery{ProviderID: ref, Limit: 1})
	if lerr != nil {
		return nil, eris.Wrap(lerr, "outreach: find by provider id")
	}
	if len(byProvider) == 0 {
		return nil, err
	}
	return &byProvider[0], nil
}

// transition applies to. A non-empty from narrows the statuses the action
// accepts below what the state machine allows.
func (m *Machine) transition(ctx context.Context, id string, to model.OutreachStatus, mut store.OutreachUpdate, from ...model.OutreachStatus) (*model.OutreachEntry, error) {
	e, err := m.store.GetOutreach(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(from) > 0 && !slices.Contains(from, e.Status) {
		return nil, eris.Wrapf(ErrIllegalTransition, "outreach: %s from %s", to, e.Status)
	}
	if !model.CanTransition(e.Status, to) {
		return nil, eris.Wrapf(ErrIllegalTransition, "outreach: %s -> %s", e.Status, to)
	}
	if err := m.store.TransitionOutreach(ctx, id, e.Status, to, mut); err != nil {
		return nil, err
	}
	m.log.Info("outreach transition",
		zap.String("outreach_id", id),
		zap.String("from", string(e.Status)),
		zap.String("to", string(to)),
	)
	return m.store.GetOutreach(ctx, id)
}
