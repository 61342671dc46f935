package breaker

import (
	"sort"
	"sync"
)

// Registry holds one breaker per provider. Lookups never take a lock
// shared across providers.
type Registry struct {
	cfg      Config
	breakers sync.Map // provider -> *Breaker
}

// NewRegistry creates a registry, pre-registering the given providers so
// they show up in Status before their first call.
func NewRegistry(cfg Config, providers ...string) *Registry {
	r := &Registry{cfg: cfg}
	for _, p := range providers {
		r.Get(p)
	}
	return r
}

// Get returns the breaker for provider, creating it on first use
func (r *Registry) Get(provider string) *Breaker {
	if b, ok := r.breakers.Load(provider); ok {
		return b.(*Breaker)
	}
	b, _ := r.breakers.LoadOrStore(provider, New(provider, r.cfg))
	return b.(*Breaker)
}

// Status returns a snapshot of every breaker, ordered by provider name
func (r *Registry) Status() []Snapshot {
	var out []Snapshot
	r.breakers.Range(func(_, v any) bool {
		out = append(out, v.(*Breaker).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
