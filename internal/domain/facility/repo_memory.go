package facility

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/triage/pkg/pagination"
)

type memoryRepo struct {
	mu    sync.RWMutex
	items map[string]*Facility
}

// NewMemoryRepo returns a process-local repository used by STORE=memory and
// tests.
func NewMemoryRepo() Repository {
	return &memoryRepo{items: make(map[string]*Facility)}
}

func clone(f *Facility) *Facility {
	c := *f
	c.Resources = append([]string(nil), f.Resources...)
	c.Specialties = append([]string(nil), f.Specialties...)
	return &c
}

func (r *memoryRepo) Create(_ context.Context, f *Facility) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	r.items[f.ID] = clone(f)
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*Facility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(f), nil
}

func (r *memoryRepo) Update(_ context.Context, f *Facility) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.items[f.ID]
	if !ok {
		return ErrNotFound
	}
	f.CreatedAt = prev.CreatedAt
	f.UpdatedAt = time.Now().UTC()
	r.items[f.ID] = clone(f)
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memoryRepo) sorted(activeOnly bool, byName bool) []*Facility {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Facility, 0, len(r.items))
	for _, f := range r.items {
		if activeOnly && !f.Active {
			continue
		}
		out = append(out, clone(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if byName && out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memoryRepo) List(_ context.Context, activeOnly bool, limit, offset int) ([]*Facility, int, error) {
	all := r.sorted(activeOnly, true)
	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(len(all))
	return all[start:end], len(all), nil
}

func (r *memoryRepo) ListActive(_ context.Context) ([]*Facility, error) {
	return r.sorted(true, false), nil
}
