package herostate

import (
	"net/url"
	"time"
)

// Typed signal setters. Each one builds a Patch and feeds it through Update,
// so every signal source shares the same merge/publish path. Signal sources
// are independent: last write wins per field, and a subscriber may observe a
// transiently mixed combination while sources race. Consumers must treat
// each field as eventually consistent, not atomically joined.

// SetPageVisible records the tab visibility signal.
func (s *Store) SetPageVisible(v bool) error {
	return s.Update(Patch{PageVisible: &v})
}

// SetLandingVisible records whether the hero region intersects the viewport.
func (s *Store) SetLandingVisible(v bool) error {
	return s.Update(Patch{LandingVisible: &v})
}

// SetEggActive records whether the easter-egg overlay is open.
func (s *Store) SetEggActive(v bool) error {
	return s.Update(Patch{EggActive: &v})
}

// SetReducedMotion records the OS/browser reduced-motion preference.
func (s *Store) SetReducedMotion(v bool) error {
	return s.Update(Patch{PrefersReducedMotion: &v})
}

// SetViewport coalesces viewport geometry updates. Resize events arrive in
// bursts, so the merge is delayed by cfg.ViewportDebounce; further calls
// within the window replace the pending value and reset the timer. The
// eventual Update carries only the last geometry seen.
func (s *Store) SetViewport(v Viewport) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.vpPending = &v
	if s.vpTimer != nil {
		s.vpTimer.Stop()
	}
	s.vpTimer = time.AfterFunc(s.cfg.ViewportDebounce, s.flushViewport)
	s.mu.Unlock()
	return nil
}

func (s *Store) flushViewport() {
	s.mu.Lock()
	pending := s.vpPending
	s.vpPending = nil
	s.vpTimer = nil
	closed := s.closed
	s.mu.Unlock()
	if closed || pending == nil {
		return
	}
	if err := s.Update(Patch{Viewport: pending}); err != nil {
		s.log.Debug("herostate: viewport flush after close", "error", err)
	}
}

// Navigate records a navigation to u. AtHome and NewToHome are derived here:
// NewToHome is set only when this navigation arrives at home from elsewhere,
// and holds until the next navigation (so the intro animation can observe
// it), never flipping on unrelated signal ticks.
//
// A navigation to a foreign origin arms the departure timer: if the user
// does not come back within cfg.LeaveGrace the store closes itself.
// Transient redirects that bounce back on-site disarm the timer.
func (s *Store) Navigate(u *url.URL) error {
	if u == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	wasHome := s.state.AtHome
	atHome := s.isHome(u)
	newToHome := atHome && !wasHome

	if !sameOrigin(u, s.cfg.Site) {
		if s.leaveTimer == nil {
			s.leaveTimer = time.AfterFunc(s.cfg.LeaveGrace, func() {
				s.log.Info("herostate: left site, tearing down", "grace", s.cfg.LeaveGrace)
				s.Close()
			})
		}
	} else if s.leaveTimer != nil {
		s.leaveTimer.Stop()
		s.leaveTimer = nil
	}
	s.mu.Unlock()

	return s.Update(Patch{
		AtHome:    &atHome,
		NewToHome: &newToHome,
		Location:  u,
	})
}
