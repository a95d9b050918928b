package herostate

import (
	"io"
	"log/slog"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{
		Site:             mustURL(t, "https://example.org/"),
		LeaveGrace:       25 * time.Millisecond,
		ViewportDebounce: 10 * time.Millisecond,
		Logger:           discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestNewRequiresSite(t *testing.T) {
	if _, err := New(Config{}); err != ErrNoSite {
		t.Fatalf("expected ErrNoSite, got %v", err)
	}
}

func TestSeedDefaultsToSiteRoot(t *testing.T) {
	s := newTestStore(t)
	st := s.State()
	if !st.AtHome {
		t.Error("seeded at site root should be at home")
	}
	if st.Location == nil || st.Location.Host != "example.org" {
		t.Errorf("location = %v", st.Location)
	}
	if st.NewToHome {
		t.Error("seed must not set NewToHome")
	}
}

func TestUpdateMergesPartially(t *testing.T) {
	s := newTestStore(t)
	if err := s.Update(Patch{LandingVisible: Bool(true), PageVisible: Bool(true)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(Patch{EggActive: Bool(true)}); err != nil {
		t.Fatal(err)
	}
	st := s.State()
	if !st.LandingVisible || !st.PageVisible || !st.EggActive {
		t.Errorf("merge lost fields: %+v", st)
	}
	if !st.AtHome {
		t.Error("merge must not reset untouched fields")
	}
}

func TestEmptyPatchLeavesStateUntouched(t *testing.T) {
	s := newTestStore(t)
	_ = s.Update(Patch{LandingVisible: Bool(true)})
	before := s.State()
	if err := s.Update(Patch{}); err != nil {
		t.Fatal(err)
	}
	after := s.State()
	if after.UpdatedAt != before.UpdatedAt {
		t.Error("empty patch must not bump UpdatedAt")
	}
	if after.LandingVisible != before.LandingVisible || after.AtHome != before.AtHome {
		t.Error("empty patch changed observable state")
	}
}

func TestSubscribePublishOrder(t *testing.T) {
	s := newTestStore(t)
	var got []bool
	cancel := s.Subscribe(func(st HeroState) {
		got = append(got, st.EggActive)
	})
	defer cancel()

	_ = s.Update(Patch{EggActive: Bool(true)})
	_ = s.Update(Patch{EggActive: Bool(false)})

	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("snapshots out of order: %v", got)
	}
}

func TestSubscribeCancel(t *testing.T) {
	s := newTestStore(t)
	var n atomic.Int64
	cancel := s.Subscribe(func(HeroState) { n.Add(1) })
	_ = s.Update(Patch{EggActive: Bool(true)})
	cancel()
	cancel() // idempotent
	_ = s.Update(Patch{EggActive: Bool(false)})
	if n.Load() != 1 {
		t.Errorf("subscriber called %d times after cancel, want 1", n.Load())
	}
}

func TestUpdateAfterClose(t *testing.T) {
	s := newTestStore(t)
	s.Close()
	s.Close() // idempotent
	if err := s.Update(Patch{EggActive: Bool(true)}); err != ErrStoreClosed {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if !s.Closed() {
		t.Error("Closed() should report true")
	}
}

func TestIsHome(t *testing.T) {
	s := newTestStore(t)
	cases := []struct {
		raw  string
		want bool
	}{
		{"https://example.org/", true},
		{"https://example.org", true},
		{"https://example.org/index.html", true},
		{"https://example.org/licenses/mit/", false},
		{"https://other.example/", false},
		{"http://example.org/", false},
	}
	for _, c := range cases {
		if got := s.isHome(mustURL(t, c.raw)); got != c.want {
			t.Errorf("isHome(%s) = %v, want %v", c.raw, got, c.want)
		}
	}
	if s.isHome(nil) {
		t.Error("isHome(nil) must be false")
	}
}

func TestViewportDebounceCoalesces(t *testing.T) {
	s := newTestStore(t)
	var updates atomic.Int64
	cancel := s.Subscribe(func(HeroState) { updates.Add(1) })
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := s.SetViewport(Viewport{Width: 100 + i, Height: 50}); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, time.Second, func() bool { return updates.Load() == 1 })

	st := s.State()
	if st.Viewport.Width != 104 {
		t.Errorf("viewport width = %d, want last write 104", st.Viewport.Width)
	}
	if updates.Load() != 1 {
		t.Errorf("burst produced %d updates, want 1", updates.Load())
	}
}

func TestSetViewportAfterClose(t *testing.T) {
	s := newTestStore(t)
	s.Close()
	if err := s.SetViewport(Viewport{Width: 1}); err != ErrStoreClosed {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

func TestNavigateNewToHome(t *testing.T) {
	s := newTestStore(t)

	// Seeded at home: navigating away then back sets NewToHome.
	if err := s.Navigate(mustURL(t, "https://example.org/licenses/mit/")); err != nil {
		t.Fatal(err)
	}
	st := s.State()
	if st.AtHome || st.NewToHome {
		t.Errorf("after leaving home: %+v", st)
	}

	if err := s.Navigate(mustURL(t, "https://example.org/")); err != nil {
		t.Fatal(err)
	}
	st = s.State()
	if !st.AtHome || !st.NewToHome {
		t.Errorf("arrival at home should set NewToHome: %+v", st)
	}

	// NewToHome persists through unrelated signals.
	_ = s.SetEggActive(true)
	if !s.State().NewToHome {
		t.Error("NewToHome must survive unrelated updates")
	}

	// Navigating within home does not re-arm it.
	if err := s.Navigate(mustURL(t, "https://example.org/index.html")); err != nil {
		t.Fatal(err)
	}
	if s.State().NewToHome {
		t.Error("home-to-home navigation must clear NewToHome")
	}
}

func TestNavigateForeignOriginTearsDown(t *testing.T) {
	s := newTestStore(t)
	if err := s.Navigate(mustURL(t, "https://elsewhere.example/")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, s.Closed)
}

func TestNavigateBounceBackDisarmsTeardown(t *testing.T) {
	s := newTestStore(t)
	if err := s.Navigate(mustURL(t, "https://sso.example/redirect")); err != nil {
		t.Fatal(err)
	}
	if err := s.Navigate(mustURL(t, "https://example.org/")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond) // past LeaveGrace
	if s.Closed() {
		t.Error("bounce back within grace must keep the store alive")
	}
	if err := s.Update(Patch{PageVisible: Bool(true)}); err != nil {
		t.Errorf("store should still accept updates: %v", err)
	}
}

func TestStatsCounters(t *testing.T) {
	s := newTestStore(t)
	cancel := s.Subscribe(func(HeroState) {})
	defer cancel()
	_ = s.Update(Patch{EggActive: Bool(true)})
	_ = s.Update(Patch{EggActive: Bool(false)})

	st := s.Stats()
	if st.Updates != 2 {
		t.Errorf("updates = %d, want 2", st.Updates)
	}
	if st.Emissions != 2 {
		t.Errorf("emissions = %d, want 2", st.Emissions)
	}
	if st.Closed {
		t.Error("store not closed yet")
	}
}
