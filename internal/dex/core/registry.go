package core

import "sync"

type Registry struct {
	mu     sync.RWMutex
	venues map[VenueID]*Venue
	order  []VenueID
}

func NewRegistry() *Registry { return &Registry{venues: make(map[VenueID]*Venue)} }

func (r *Registry) Register(v *Venue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.venues[v.ID]; !ok {
		r.order = append(r.order, v.ID)
	}
	r.venues[v.ID] = v
}

func (r *Registry) Get(id VenueID) *Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.venues[id]
}

// Enabled returns the registered venues for ids, in the order given. Unknown ids are skipped.
func (r *Registry) Enabled(ids []VenueID) []*Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Venue, 0, len(ids))
	for _, id := range ids {
		if v := r.venues[id]; v != nil {
			out = append(out, v)
		}
	}
	return out
}

// All returns every venue in registration order.
func (r *Registry) All() []*Venue {
	r.mu.RLock()
	ids := append([]VenueID(nil), r.order...)
	r.mu.RUnlock()
	return r.Enabled(ids)
}
