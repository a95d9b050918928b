package herostate

import "sync"

// Gate is an edge-triggered permission stream for one animation component.
// It applies a predicate to every store snapshot and notifies listeners only
// when the resulting boolean changes. A repeated true never re-triggers a
// consumer.
type Gate struct {
	name  string
	pred  Predicate
	unsub func()

	mu      sync.Mutex
	last    bool
	subs    map[int]func(bool)
	nextSub int
}

// NewGate builds a gate over store with the given predicate. The gate seeds
// its value from the current snapshot, so the first Notify callback reflects
// reality rather than a zero value.
func NewGate(name string, store *Store, pred Predicate) *Gate {
	g := &Gate{
		name: name,
		pred: pred,
		last: pred(store.State()),
		subs: make(map[int]func(bool)),
	}
	g.unsub = store.Subscribe(g.observe)
	return g
}

// Name returns the component name the gate was created with.
func (g *Gate) Name() string { return g.name }

// Value returns the last computed permission.
func (g *Gate) Value() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Notify registers fn and immediately invokes it with the current value so
// the consumer can establish its starting play/pause posture. Afterwards fn
// runs only on transitions. The returned cancel is idempotent.
func (g *Gate) Notify(fn func(bool)) (cancel func()) {
	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	cur := g.last
	g.mu.Unlock()

	fn(cur)
	return func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}
}

// Close detaches the gate from the store and drops its listeners.
func (g *Gate) Close() {
	g.unsub()
	g.mu.Lock()
	g.subs = make(map[int]func(bool))
	g.mu.Unlock()
}

// observe runs synchronously on every store publication.
func (g *Gate) observe(s HeroState) {
	v := g.pred(s)
	g.mu.Lock()
	if v == g.last {
		g.mu.Unlock()
		return
	}
	g.last = v
	fns := make([]func(bool), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Gates bundles the four component gates the hero section uses.
type Gates struct {
	Carousel *Gate
	Impact   *Gate
	Panning  *Gate
	Scroll   *Gate
}

// NewGates wires the standard component gates over store.
func NewGates(store *Store) *Gates {
	return &Gates{
		Carousel: NewGate("carousel", store, CarouselCanPlay),
		Impact:   NewGate("impact", store, ImpactCanPlay),
		Panning:  NewGate("panning", store, PanningCanPan),
		Scroll:   NewGate("scroll", store, ScrollCanTrigger),
	}
}

// All returns the gates in a stable order.
func (g *Gates) All() []*Gate {
	return []*Gate{g.Carousel, g.Impact, g.Panning, g.Scroll}
}

// Close closes every gate.
func (g *Gates) Close() {
	for _, gate := range g.All() {
		gate.Close()
	}
}
