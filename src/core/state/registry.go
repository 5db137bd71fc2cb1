package state

// ElementState is the per-element lifecycle record. bound marks that a
// capture handler is attached; analyzing holds the single in-flight media
// round; shielded transitions false to true at most once.
type ElementState struct {
	Bound     bool
	Analyzing bool
	Shielded  bool
}

// Registry maps element identity to its state record. It is confined to one
// session loop goroutine, so every check-then-set below is atomic by
// construction. Entries are pruned when removal mutations detach elements,
// keeping long-lived pages from accumulating dead records.
type Registry struct {
	states map[string]*ElementState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*ElementState)}
}

// Get returns the state record for id, creating it on first sight.
func (r *Registry) Get(id string) *ElementState {
	st, ok := r.states[id]
	if !ok {
		st = &ElementState{}
		r.states[id] = st
	}
	return st
}

// Bind marks id as bound. Returns false when it already was, making handler
// attachment idempotent across live notifications and the startup sweep.
func (r *Registry) Bind(id string) bool {
	st := r.Get(id)
	if st.Bound {
		return false
	}
	st.Bound = true
	return true
}

// BeginAnalysis claims the per-element media lock. Returns false when a
// round is already in flight.
func (r *Registry) BeginAnalysis(id string) bool {
	st := r.Get(id)
	if st.Analyzing {
		return false
	}
	st.Analyzing = true
	return true
}

// EndAnalysis releases the lock so the element is eligible again on its next
// playback start. Safe to call when no round is active.
func (r *Registry) EndAnalysis(id string) {
	if st, ok := r.states[id]; ok {
		st.Analyzing = false
	}
}

// MarkShielded records the one-way shielded transition. Returns false when
// the element was already shielded.
func (r *Registry) MarkShielded(id string) bool {
	st := r.Get(id)
	if st.Shielded {
		return false
	}
	st.Shielded = true
	return true
}

// Prune drops the records for detached elements.
func (r *Registry) Prune(ids []string) {
	for _, id := range ids {
		delete(r.states, id)
	}
}

// Len reports how many records are held.
func (r *Registry) Len() int {
	return len(r.states)
}

// DedupCache is the set of media resource locators already claimed for
// submission during this page session. Loop-confined like the registry.
type DedupCache struct {
	seen map[string]struct{}
}

// NewDedupCache creates an empty cache.
func NewDedupCache() *DedupCache {
	return &DedupCache{seen: make(map[string]struct{})}
}

// Claim inserts url and reports whether this call claimed it. The insert
// happens before any asynchronous capture step, so a second mutation
// notification for the same resource can never duplicate a submission.
func (c *DedupCache) Claim(url string) bool {
	if _, ok := c.seen[url]; ok {
		return false
	}
	c.seen[url] = struct{}{}
	return true
}

// Seen reports membership without claiming.
func (c *DedupCache) Seen(url string) bool {
	_, ok := c.seen[url]
	return ok
}

// Len reports how many resources are claimed.
func (c *DedupCache) Len() int {
	return len(c.seen)
}
