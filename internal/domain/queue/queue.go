// Package queue orders waiting encounters and estimates their wait. All
// functions operate on snapshots and have no side effects.
package queue

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ehr/triage/internal/domain/triage"
)

var ErrNotQueued = errors.New("encounter is not in the waiting set")

// Entry is the queue view of a WAITING encounter.
type Entry struct {
	ID          string      `json:"id"`
	Tier        triage.Tier `json:"tier"`
	ArrivalTime time.Time   `json:"arrival_time"`
	// Seq is the store insertion sequence, used to order equal arrival times.
	Seq int64 `json:"seq"`
}

// Config holds the wait estimation tables.
type Config struct {
	BaseMinutes         map[triage.Tier]int
	CongestionThreshold int
	CongestionFactor    float64
}

func DefaultConfig() Config {
	return Config{
		BaseMinutes: map[triage.Tier]int{
			triage.Red:    5,
			triage.Orange: 15,
			triage.Yellow: 30,
			triage.Green:  45,
			triage.Blue:   60,
		},
		CongestionThreshold: 90,
		CongestionFactor:    1.5,
	}
}

func (c Config) Validate() error {
	for _, t := range triage.AllTiers() {
		v, ok := c.BaseMinutes[t]
		if !ok {
			return fmt.Errorf("missing base wait for %s", t)
		}
		if v < 0 {
			return fmt.Errorf("negative base wait for %s", t)
		}
	}
	if c.CongestionThreshold < 0 || c.CongestionThreshold > 100 {
		return fmt.Errorf("congestion threshold must be between 0 and 100")
	}
	if c.CongestionFactor < 1 {
		return fmt.Errorf("congestion factor must be at least 1")
	}
	return nil
}

// Less is the queue order: tier rank, then arrival time, then Seq, then ID.
func Less(a, b Entry) bool {
	ra, rb := a.Tier.Rank(), b.Tier.Rank()
	if ra != rb {
		return ra < rb
	}
	if !a.ArrivalTime.Equal(b.ArrivalTime) {
		return a.ArrivalTime.Before(b.ArrivalTime)
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

// Position returns the 1-based place of id in entries. Entries does not
// need to be sorted.
func Position(entries []Entry, id string) (int, error) {
	var target *Entry
	for i := range entries {
		if entries[i].ID == id {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return 0, ErrNotQueued
	}
	ahead := 0
	for _, e := range entries {
		if e.ID != target.ID && Less(e, *target) {
			ahead++
		}
	}
	return ahead + 1, nil
}

// EstimateWaitMinutes multiplies the per-tier base time by the number of
// encounters ahead, inflated when the facility is congested.
func EstimateWaitMinutes(cfg Config, tier triage.Tier, ahead, occupancyPercent int) int {
	triage.MustValid(tier)
	if ahead <= 0 {
		return 0
	}
	wait := float64(cfg.BaseMinutes[tier] * ahead)
	if occupancyPercent > cfg.CongestionThreshold {
		wait *= cfg.CongestionFactor
	}
	return int(wait)
}

// Placement is the derived queue state of one encounter.
type Placement struct {
	ID                   string      `json:"id"`
	Tier                 triage.Tier `json:"tier"`
	Position             int         `json:"position"`
	Ahead                int         `json:"ahead"`
	EstimatedWaitMinutes int         `json:"estimated_wait_minutes"`
}

// Recompute orders a facility's waiting set and derives every position and
// wait in one pass.
func Recompute(cfg Config, entries []Entry, occupancyPercent int) []Placement {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	out := make([]Placement, len(sorted))
	for i, e := range sorted {
		out[i] = Placement{
			ID:                   e.ID,
			Tier:                 e.Tier,
			Position:             i + 1,
			Ahead:                i,
			EstimatedWaitMinutes: EstimateWaitMinutes(cfg, e.Tier, i, occupancyPercent),
		}
	}
	return out
}

// Status summarises a waiting set.
type Status struct {
	ByTier   map[triage.Tier]int `json:"by_tier"`
	Total    int                 `json:"total"`
	Critical int                 `json:"critical"`
}

func Summary(entries []Entry) Status {
	s := Status{ByTier: make(map[triage.Tier]int, 5)}
	for _, t := range triage.AllTiers() {
		s.ByTier[t] = 0
	}
	for _, e := range entries {
		triage.MustValid(e.Tier)
		s.ByTier[e.Tier]++
		s.Total++
		if e.Tier == triage.Red || e.Tier == triage.Orange {
			s.Critical++
		}
	}
	return s
}
