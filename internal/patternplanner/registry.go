package patternplanner

import "sync"

// Registry holds patterns in registration order; Match returns the first
// one whose Matcher matches the question.
type Registry struct {
	mu       sync.RWMutex
	patterns []*Pattern
}

// NewRegistry returns an empty registry. Use Builtins to seed it with the
// default probes, or Register to add custom ones.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a pattern to the end of the match order.
func (r *Registry) Register(p *Pattern) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, p)
}

// Match returns a fresh Plan for the first registered pattern whose
// Matcher matches question, or (nil, false) if none do.
func (r *Registry) Match(question string) (*Plan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patterns {
		if p.Matcher != nil && p.Matcher.MatchString(question) {
			return newPlan(p), true
		}
	}
	return nil, false
}

// Patterns returns the registered patterns in match order, for
// introspection by admin tooling that lists known probes.
func (r *Registry) Patterns() []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pattern, len(r.patterns))
	copy(out, r.patterns)
	return out
}
