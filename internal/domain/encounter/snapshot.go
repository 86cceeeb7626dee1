package encounter

import (
	"context"
	"fmt"
	"time"

	"github.com/ehr/triage/internal/domain/queue"
	"github.com/ehr/triage/internal/platform/metrics"
)

// QueueItem is one row of a facility queue snapshot.
type QueueItem struct {
	queue.Placement
	PatientRef       string    `json:"patient_ref"`
	ArrivalTime      time.Time `json:"arrival_time"`
	Reason           string    `json:"reason"`
	ClinicalOverride bool      `json:"clinical_override"`
	MaxWaitMinutes   int       `json:"max_wait_minutes"`
}

// Snapshot is the ordered waiting queue of one facility.
type Snapshot struct {
	FacilityID       string       `json:"facility_id"`
	OccupancyPercent int          `json:"occupancy_percent"`
	Items            []QueueItem  `json:"items"`
	Summary          queue.Status `json:"summary"`
	GeneratedAt      time.Time    `json:"generated_at"`

	// version orders snapshots of a facility; it is assigned under the
	// facility lock, so a higher version always reflects a later commit.
	version uint64
}

type cachedSnapshot struct {
	snap    *Snapshot
	expires time.Time
}

func entries(waiting []*Encounter) []queue.Entry {
	out := make([]queue.Entry, 0, len(waiting))
	for _, e := range waiting {
		out = append(out, e.QueueEntry())
	}
	return out
}

func (s *Service) buildSnapshot(facilityID string, occupancy int, waiting []*Encounter, placements []queue.Placement) *Snapshot {
	byID := make(map[string]*Encounter, len(waiting))
	for _, e := range waiting {
		byID[e.ID.String()] = e
	}
	items := make([]QueueItem, 0, len(placements))
	for _, p := range placements {
		e := byID[p.ID]
		items = append(items, QueueItem{
			Placement:        p,
			PatientRef:       e.PatientRef,
			ArrivalTime:      e.ArrivalTime,
			Reason:           e.Reason,
			ClinicalOverride: e.ClinicalOverride,
			MaxWaitMinutes:   p.Tier.MaxWaitMinutes(),
		})
	}
	summary := queue.Summary(entries(waiting))

	depth := make(map[string]int, len(summary.ByTier))
	for t, n := range summary.ByTier {
		depth[t.String()] = n
	}
	metrics.RecordQueueDepth(facilityID, depth)

	return &Snapshot{
		FacilityID:       facilityID,
		OccupancyPercent: occupancy,
		Items:            items,
		Summary:          summary,
		GeneratedAt:      s.now(),
		version:          s.snapshotSeq.Add(1),
	}
}

// storeSnapshot caches snap unless a newer snapshot of the facility is
// already cached. Mutations finish outside the facility lock, so an older
// snapshot may arrive last.
func (s *Service) storeSnapshot(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if v, ok := s.cache.Peek(snap.FacilityID); ok && v.(cachedSnapshot).snap.version > snap.version {
		return
	}
	s.cache.Add(snap.FacilityID, cachedSnapshot{snap: snap, expires: s.now().Add(s.cfg.CacheTTL)})
}

// InvalidateQueue drops the cached snapshot of a facility.
func (s *Service) InvalidateQueue(facilityID string) {
	s.cache.Remove(facilityID)
}

// Queue returns the ordered waiting queue of a facility. Snapshots are
// cached for CacheTTL and replaced on every mutation.
func (s *Service) Queue(ctx context.Context, facilityID string) (*Snapshot, error) {
	if v, ok := s.cache.Get(facilityID); ok {
		if c := v.(cachedSnapshot); s.now().Before(c.expires) {
			metrics.RecordQueueCacheLookup(true)
			return c.snap, nil
		}
		s.cache.Remove(facilityID)
	}
	metrics.RecordQueueCacheLookup(false)

	occupancy, err := s.facilities.Occupancy(ctx, facilityID)
	if err != nil {
		return nil, fmt.Errorf("facility %s: %w", facilityID, err)
	}
	var snap *Snapshot
	err = s.repo.InFacility(ctx, facilityID, func(tx Tx) error {
		waiting, err := tx.ListWaiting(ctx, facilityID)
		if err != nil {
			return fmt.Errorf("list waiting encounters: %w", err)
		}
		placements := queue.Recompute(s.cfg.Queue, entries(waiting), occupancy)
		snap = s.buildSnapshot(facilityID, occupancy, waiting, placements)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.storeSnapshot(snap)
	return snap, nil
}

// QueueSnapshot adapts Queue to the websocket hub's snapshot loader.
func (s *Service) QueueSnapshot(ctx context.Context, facilityID string) (any, error) {
	return s.Queue(ctx, facilityID)
}

// Position reports where an encounter currently stands in its facility
// queue.
func (s *Service) Position(ctx context.Context, e *Encounter) (int, error) {
	if e.Status != StatusWaiting || e.Tier == nil {
		return 0, queue.ErrNotQueued
	}
	waiting, err := s.repo.ListWaiting(ctx, e.FacilityID)
	if err != nil {
		return 0, err
	}
	return queue.Position(entries(waiting), e.ID.String())
}
