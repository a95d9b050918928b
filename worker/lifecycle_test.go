package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/plainlicense/herokit/cachestore"
)

func TestLifecycleHappyPath(t *testing.T) {
	o := newOrigin(t)
	o.set("/", "text/html", "ok")
	rig := newTestRig(t, testManifest("/"), o, false)
	ctx := context.Background()

	if p := rig.mgr.Phase(); p != PhaseInstalling {
		t.Fatalf("fresh manager phase = %s", p)
	}
	if err := rig.mgr.Install(ctx); err != nil {
		t.Fatal(err)
	}
	if p := rig.mgr.Phase(); p != PhaseWaiting {
		t.Fatalf("after install phase = %s", p)
	}
	if err := rig.mgr.Activate(ctx); err != nil {
		t.Fatal(err)
	}
	if p := rig.mgr.Phase(); p != PhaseActive {
		t.Fatalf("after activate phase = %s", p)
	}
}

func TestInstallFailureStaysInstalling(t *testing.T) {
	o := newOrigin(t) // empty origin: every fetch 404s
	rig := newTestRig(t, testManifest("/"), o, false)
	ctx := context.Background()

	if err := rig.mgr.Install(ctx); err == nil {
		t.Fatal("expected install failure")
	}
	if p := rig.mgr.Phase(); p != PhaseInstalling {
		t.Fatalf("failed install moved phase to %s", p)
	}

	// Retry after the origin recovers.
	o.set("/", "text/html", "ok")
	if err := rig.mgr.Install(ctx); err != nil {
		t.Fatal(err)
	}
	if p := rig.mgr.Phase(); p != PhaseWaiting {
		t.Fatalf("phase = %s", p)
	}
}

func TestActivateCleanupsOldGenerations(t *testing.T) {
	o := newOrigin(t)
	o.set("/", "text/html", "ok")
	rig := newTestRig(t, testManifest("/"), o, false)
	ctx := context.Background()

	// Leftover from a previous deployment.
	_ = rig.store.Put(ctx, "old-v0", &cachestore.Entry{URL: "/old.css", Status: 200})

	if err := rig.mgr.Install(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rig.mgr.Activate(ctx); err != nil {
		t.Fatal(err)
	}

	names, err := rig.store.CacheNames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "test-v1" {
		t.Errorf("generations = %v, want only test-v1", names)
	}
}

func TestActivateFailureRevertsToWaiting(t *testing.T) {
	o := newOrigin(t)
	o.set("/", "text/html", "ok")
	rig := newTestRig(t, testManifest("/"), o, false)
	ctx := context.Background()

	if err := rig.mgr.Install(ctx); err != nil {
		t.Fatal(err)
	}

	// Kill the storage so cleanup fails.
	rig.db.Close()
	if err := rig.mgr.Activate(ctx); err == nil {
		t.Fatal("expected activate failure")
	}
	if p := rig.mgr.Phase(); p != PhaseWaiting {
		t.Fatalf("failed activate left phase %s, want waiting", p)
	}
}

func TestBadTransitions(t *testing.T) {
	o := newOrigin(t)
	o.set("/", "text/html", "ok")
	rig := newTestRig(t, testManifest("/"), o, false)
	ctx := context.Background()

	// Activate before install.
	if err := rig.mgr.Activate(ctx); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}

	if err := rig.mgr.Install(ctx); err != nil {
		t.Fatal(err)
	}
	// Install twice.
	if err := rig.mgr.Install(ctx); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}

	if err := rig.mgr.Activate(ctx); err != nil {
		t.Fatal(err)
	}
	// Activate twice.
	if err := rig.mgr.Activate(ctx); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseInstalling: "installing",
		PhaseWaiting:    "waiting",
		PhaseActivating: "activating",
		PhaseActive:     "active",
		Phase(99):       "phase(99)",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(p), got, want)
		}
	}
}
