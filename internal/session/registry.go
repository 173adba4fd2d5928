package session

import "sync"

// registry is a sync.Map-backed index of resident session actors, keyed by
// session id (spec §4.3: "registered in a sync.Map-backed Registry").
type registry struct {
	m sync.Map // map[string]*actor
}

func newRegistry() *registry {
	return &registry{}
}

func (r *registry) get(id string) (*actor, bool) {
	v, ok := r.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*actor), true
}

// getOrStore atomically installs a into the registry under id, or returns
// the actor a concurrent caller already installed.
func (r *registry) getOrStore(id string, a *actor) (*actor, bool) {
	v, loaded := r.m.LoadOrStore(id, a)
	return v.(*actor), loaded
}

func (r *registry) remove(id string) {
	r.m.Delete(id)
}

func (r *registry) forEach(fn func(a *actor)) {
	r.m.Range(func(_, v any) bool {
		fn(v.(*actor))
		return true
	})
}

func (r *registry) ids() []string {
	var out []string
	r.m.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	return out
}
