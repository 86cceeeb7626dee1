package encounter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/triage/internal/domain/queue"
	"github.com/ehr/triage/pkg/pagination"
)

type memoryRepo struct {
	mu    sync.RWMutex
	seq   int64
	items map[uuid.UUID]*Encounter

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryRepo returns a process-local repository used by STORE=memory and
// tests. Facility sections are serialized with one mutex per facility.
func NewMemoryRepo() Repository {
	return &memoryRepo{
		items: make(map[uuid.UUID]*Encounter),
		locks: make(map[string]*sync.Mutex),
	}
}

func clone(e *Encounter) *Encounter {
	c := *e
	if e.Answers != nil {
		c.Answers = make(map[string]bool, len(e.Answers))
		for k, v := range e.Answers {
			c.Answers[k] = v
		}
	}
	if e.Vitals != nil {
		c.Vitals = make(map[string]any, len(e.Vitals))
		for k, v := range e.Vitals {
			c.Vitals[k] = v
		}
	}
	c.Recommendations = append([]string(nil), e.Recommendations...)
	return &c
}

func (r *memoryRepo) Create(_ context.Context, e *Encounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	r.seq++
	e.Seq = r.seq
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	r.items[e.ID] = clone(e)
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Encounter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e), nil
}

func (r *memoryRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Encounter, int, error) {
	r.mu.RLock()
	var all []*Encounter
	for _, e := range r.items {
		if f.FacilityID != "" && e.FacilityID != f.FacilityID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		all = append(all, clone(e))
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Seq > all[j].Seq })
	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(len(all))
	return all[start:end], len(all), nil
}

func (r *memoryRepo) ListWaiting(_ context.Context, facilityID string) ([]*Encounter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waitingLocked(facilityID, nil), nil
}

// waitingLocked returns the facility's WAITING encounters, preferring staged
// copies over stored ones.
func (r *memoryRepo) waitingLocked(facilityID string, staged map[uuid.UUID]*Encounter) []*Encounter {
	var out []*Encounter
	for id, e := range r.items {
		if s, ok := staged[id]; ok {
			e = s
		}
		if e.FacilityID == facilityID && e.Status == StatusWaiting {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (r *memoryRepo) facilityLock(facilityID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[facilityID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[facilityID] = l
	}
	return l
}

func (r *memoryRepo) InFacility(ctx context.Context, facilityID string, fn func(tx Tx) error) error {
	l := r.facilityLock(facilityID)
	l.Lock()
	defer l.Unlock()

	tx := &memoryTx{repo: r, staged: make(map[uuid.UUID]*Encounter)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range tx.staged {
		r.items[id] = e
	}
	return nil
}

type memoryTx struct {
	repo   *memoryRepo
	staged map[uuid.UUID]*Encounter
}

func (t *memoryTx) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	if e, ok := t.staged[id]; ok {
		return clone(e), nil
	}
	return t.repo.GetByID(ctx, id)
}

func (t *memoryTx) Update(_ context.Context, e *Encounter) error {
	t.repo.mu.RLock()
	_, ok := t.repo.items[e.ID]
	t.repo.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.UpdatedAt = time.Now().UTC()
	t.staged[e.ID] = clone(e)
	return nil
}

func (t *memoryTx) ListWaiting(_ context.Context, facilityID string) ([]*Encounter, error) {
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	return t.repo.waitingLocked(facilityID, t.staged), nil
}

func (t *memoryTx) UpdatePlacements(ctx context.Context, placements []queue.Placement) error {
	for _, p := range placements {
		id, err := uuid.Parse(p.ID)
		if err != nil {
			return err
		}
		e, err := t.GetByID(ctx, id)
		if err != nil {
			return err
		}
		e.applyPlacement(p)
		t.staged[id] = e
	}
	return nil
}
