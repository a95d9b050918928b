package herostate

// Predicate maps a state snapshot to a single component's permission.
// Predicates are pure: same snapshot in, same boolean out, no side effects.
type Predicate func(HeroState) bool

// CarouselCanPlay gates the background image carousel. The carousel keeps
// running under reduced motion — its crossfade is the simplified substitute
// reduced-motion users get instead of the decorative effects.
func CarouselCanPlay(s HeroState) bool {
	return s.AtHome && s.LandingVisible && s.PageVisible && !s.EggActive
}

// ImpactCanPlay gates the intro text effect. It only ever fires on the
// navigation that just arrived at home, and never for reduced-motion users.
func ImpactCanPlay(s HeroState) bool {
	return CarouselCanPlay(s) && s.NewToHome && !s.PrefersReducedMotion
}

// PanningCanPan gates the slow parallax pan. Never for reduced-motion users.
func PanningCanPan(s HeroState) bool {
	return CarouselCanPlay(s) && !s.PrefersReducedMotion
}

// ScrollCanTrigger gates scroll-driven section transitions. Only the overlay
// blocks these; they follow user intent, so they run off-home too.
func ScrollCanTrigger(s HeroState) bool {
	return !s.EggActive
}
