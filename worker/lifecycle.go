package worker

import (
	"context"
	"fmt"

	"github.com/plainlicense/herokit/observability"
)

// Phase is the worker lifecycle state. A fresh Manager starts installing;
// Install gates installing→waiting on a successful precache, Activate gates
// →active on a successful cleanup. Failures leave the phase where it was so
// the previous worker generation keeps serving — the failure is rethrown,
// never swallowed.
type Phase int

const (
	PhaseInstalling Phase = iota
	PhaseWaiting
	PhaseActivating
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseInstalling:
		return "installing"
	case PhaseWaiting:
		return "waiting"
	case PhaseActivating:
		return "activating"
	case PhaseActive:
		return "active"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// setPhase performs a validated transition.
func (m *Manager) setPhase(from, to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != from {
		return fmt.Errorf("%w: %s -> %s while %s", ErrBadTransition, from, to, m.phase)
	}
	m.phase = to
	return nil
}

// Install runs the install step: precache everything, then move to waiting.
// A precache failure keeps the manager installing and propagates, so the
// caller can retry or keep the previous generation live.
func (m *Manager) Install(ctx context.Context) error {
	if p := m.Phase(); p != PhaseInstalling {
		return fmt.Errorf("%w: install while %s", ErrBadTransition, p)
	}
	if err := m.Precache(ctx); err != nil {
		return err
	}
	if err := m.setPhase(PhaseInstalling, PhaseWaiting); err != nil {
		return err
	}
	m.log.Info("worker: installed", "cache", m.CacheName())
	m.recordLifecycle(ctx, "installed", true)
	return nil
}

// Activate runs the activation step: claim the active role (skipWaiting
// semantics — there is no separate waiting period server-side), clean up
// prior cache generations, and become active. A cleanup failure reverts to
// waiting and propagates.
func (m *Manager) Activate(ctx context.Context) error {
	if err := m.setPhase(PhaseWaiting, PhaseActivating); err != nil {
		return err
	}
	if err := m.Cleanup(ctx); err != nil {
		// Cleanup failed: fall back to waiting so Activate can be retried.
		_ = m.setPhase(PhaseActivating, PhaseWaiting)
		m.recordLifecycle(ctx, "activate_failed", false)
		return err
	}
	if err := m.setPhase(PhaseActivating, PhaseActive); err != nil {
		return err
	}
	m.log.Info("worker: active", "cache", m.CacheName())
	m.recordLifecycle(ctx, "activated", true)
	return nil
}

func (m *Manager) recordLifecycle(ctx context.Context, event string, ok bool) {
	if m.events == nil {
		return
	}
	m.events.Record(ctx, observability.Event{
		Type:    "lifecycle",
		Subject: m.CacheName(),
		Detail:  event,
		Success: ok,
	})
}
