package encounter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/ehr/triage/internal/domain/queue"
	"github.com/ehr/triage/internal/domain/routing"
	"github.com/ehr/triage/internal/domain/triage"
	"github.com/ehr/triage/internal/platform/events"
	"github.com/ehr/triage/internal/platform/metrics"
)

// FacilityDirectory is the part of the facility service the encounter
// workflow depends on.
type FacilityDirectory interface {
	Occupancy(ctx context.Context, facilityID string) (int, error)
	Candidates(ctx context.Context) ([]routing.Candidate, error)
}

// Config tunes the service.
type Config struct {
	Queue             queue.Config
	Routing           routing.Weights
	CacheSize         int
	CacheTTL          time.Duration
	RoutingMaxResults int
}

func DefaultConfig() Config {
	return Config{
		Queue:             queue.DefaultConfig(),
		Routing:           routing.DefaultWeights(),
		CacheSize:         256,
		CacheTTL:          5 * time.Second,
		RoutingMaxResults: 5,
	}
}

type Service struct {
	repo       Repository
	facilities FacilityDirectory
	engine     *triage.Engine
	router     *routing.Router
	publisher  events.Publisher
	cfg        Config
	cache      *lru.Cache
	cacheMu    sync.Mutex
	logger     zerolog.Logger
	now        func() time.Time

	snapshotSeq atomic.Uint64
}

func NewService(repo Repository, facilities FacilityDirectory, engine *triage.Engine, publisher events.Publisher, cfg Config, logger zerolog.Logger) (*Service, error) {
	if err := cfg.Queue.Validate(); err != nil {
		return nil, fmt.Errorf("queue config: %w", err)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create queue cache: %w", err)
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		repo:       repo,
		facilities: facilities,
		engine:     engine,
		router:     routing.NewRouter(cfg.Routing),
		publisher:  publisher,
		cfg:        cfg,
		cache:      cache,
		logger:     logger.With().Str("component", "encounter").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// ArrivalRequest registers a patient at a facility.
type ArrivalRequest struct {
	FacilityID     string     `json:"facility_id"`
	PatientRef     string     `json:"patient_ref"`
	ArrivalTime    *time.Time `json:"arrival_time,omitempty"`
	PresentationID string     `json:"presentation_id,omitempty"`
}

// OverrideRequest is a clinician-assigned tier.
type OverrideRequest struct {
	Tier   triage.Tier `json:"tier"`
	Reason string      `json:"reason"`
}

// RouteRequest asks for facility suggestions for a triaged encounter.
type RouteRequest struct {
	Origin     *routing.Point `json:"origin,omitempty"`
	MaxResults int            `json:"max_results,omitempty"`
}

func (s *Service) Arrive(ctx context.Context, req ArrivalRequest) (*Encounter, error) {
	if req.FacilityID == "" {
		return nil, fmt.Errorf("%w: facility_id is required", ErrValidation)
	}
	if strings.TrimSpace(req.PatientRef) == "" {
		return nil, fmt.Errorf("%w: patient_ref is required", ErrValidation)
	}
	if _, err := s.facilities.Occupancy(ctx, req.FacilityID); err != nil {
		return nil, fmt.Errorf("facility %s: %w", req.FacilityID, err)
	}

	enc := &Encounter{
		FacilityID:     req.FacilityID,
		PatientRef:     req.PatientRef,
		ArrivalTime:    s.now(),
		Status:         StatusArrival,
		PresentationID: req.PresentationID,
	}
	if req.ArrivalTime != nil {
		enc.ArrivalTime = req.ArrivalTime.UTC()
	}
	if err := s.repo.Create(ctx, enc); err != nil {
		return nil, fmt.Errorf("create encounter: %w", err)
	}
	s.logger.Info().Str("encounter_id", enc.ID.String()).Str("facility_id", enc.FacilityID).Msg("patient arrived")
	return enc, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Encounter, int, error) {
	if filter.Status != "" && !ValidStatus(filter.Status) {
		return nil, 0, fmt.Errorf("%w: invalid status %q", ErrValidation, filter.Status)
	}
	return s.repo.List(ctx, filter, limit, offset)
}

func validateInput(in triage.Input) error {
	if in.AgeMonths != nil && *in.AgeMonths < 0 {
		return fmt.Errorf("%w: age_months must not be negative", ErrValidation)
	}
	if in.GestationalWeeks != nil && (*in.GestationalWeeks < 0 || *in.GestationalWeeks > 45) {
		return fmt.Errorf("%w: gestational_weeks must be between 0 and 45", ErrValidation)
	}
	return nil
}

// Resolve runs the engine without touching any encounter.
func (s *Service) Resolve(in triage.Input) (triage.Result, error) {
	if err := validateInput(in); err != nil {
		return triage.Result{}, err
	}
	res := s.engine.Resolve(in)
	metrics.RecordResolution(res.Tier.String(), res.Presentation, res.FellBack)
	return res, nil
}

// Triage resolves the encounter's priority from in, places it in the waiting
// queue and reorders the facility.
func (s *Service) Triage(ctx context.Context, id uuid.UUID, in triage.Input) (*Encounter, triage.Result, error) {
	res, err := s.Resolve(in)
	if err != nil {
		return nil, triage.Result{}, err
	}

	var previous string
	enc, err := s.mutate(ctx, id, func(e *Encounter) error {
		if !canTriage(e.Status) {
			return fmt.Errorf("%w: cannot triage encounter in status %s", ErrInvalidTransition, e.Status)
		}
		previous = e.Status
		now := s.now()
		tier := res.Tier
		e.PresentationID = in.PresentationID
		e.Answers = in.Answers
		e.Vitals = in.Vitals
		e.AgeMonths = in.AgeMonths
		e.IsPregnant = in.IsPregnant
		e.GestationalWeeks = in.GestationalWeeks
		e.Tier = &tier
		e.Reason = res.Reason
		e.Recommendations = res.Recommendations
		e.ClinicalOverride = false
		e.OverrideReason = nil
		e.TriagedAt = &now
		e.Status = StatusWaiting
		return nil
	})
	if err != nil {
		return nil, triage.Result{}, err
	}

	if previous != StatusWaiting {
		metrics.RecordStatusChange(previous, StatusWaiting)
	}
	ev := s.logger.Debug()
	if res.Tier == triage.Red {
		ev = s.logger.Warn()
	}
	ev.Str("encounter_id", enc.ID.String()).Str("tier", res.Tier.String()).Str("reason", res.Reason).Msg("encounter triaged")

	s.publish(ctx, events.TypeTriageUpdated, events.FacilityTopic(enc.FacilityID), enc, res)
	if res.Tier == triage.Red || res.Tier == triage.Orange {
		s.publish(ctx, events.TypeEmergency, events.EmergencyTopic(enc.FacilityID), enc, res)
	}
	return enc, res, nil
}

// Override replaces the computed tier with a clinician's decision. It stays
// in force until the encounter is triaged again.
func (s *Service) Override(ctx context.Context, id uuid.UUID, req OverrideRequest) (*Encounter, error) {
	if !req.Tier.Valid() {
		return nil, fmt.Errorf("%w: invalid tier", ErrValidation)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	from := "NONE"
	enc, err := s.mutate(ctx, id, func(e *Encounter) error {
		if !canTriage(e.Status) {
			return fmt.Errorf("%w: cannot override encounter in status %s", ErrInvalidTransition, e.Status)
		}
		if e.Tier != nil {
			from = e.Tier.String()
		}
		tier := req.Tier
		now := s.now()
		e.Tier = &tier
		e.Reason = reason
		e.Recommendations = triage.Recommendations(tier, e.PresentationID, reason)
		e.ClinicalOverride = true
		e.OverrideReason = &reason
		if e.TriagedAt == nil {
			e.TriagedAt = &now
		}
		e.Status = StatusWaiting
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordOverride(from, req.Tier.String())
	s.logger.Info().
		Str("encounter_id", enc.ID.String()).
		Str("from_tier", from).
		Str("to_tier", req.Tier.String()).
		Msg("tier overridden")

	s.publish(ctx, events.TypeTierOverridden, events.FacilityTopic(enc.FacilityID), enc, map[string]string{
		"from_tier": from,
		"to_tier":   req.Tier.String(),
		"reason":    reason,
	})
	if req.Tier == triage.Red || req.Tier == triage.Orange {
		s.publish(ctx, events.TypeEmergency, events.EmergencyTopic(enc.FacilityID), enc, enc)
	}
	return enc, nil
}

// ChangeStatus moves an encounter along its lifecycle.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to string) (*Encounter, error) {
	if !ValidStatus(to) {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, to)
	}

	var from string
	enc, err := s.mutate(ctx, id, func(e *Encounter) error {
		from = e.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		if to == StatusWaiting && e.Tier == nil {
			return fmt.Errorf("%w: encounter must be triaged before waiting", ErrInvalidTransition)
		}
		now := s.now()
		e.Status = to
		switch {
		case to == StatusInCare:
			e.CalledAt = &now
		case IsTerminal(to):
			e.ClosedAt = &now
		}
		if to != StatusWaiting {
			e.clearPlacement()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordStatusChange(from, to)
	s.logger.Info().Str("encounter_id", enc.ID.String()).Str("from", from).Str("to", to).Msg("status changed")

	s.publish(ctx, events.TypeStatusChanged, events.FacilityTopic(enc.FacilityID), enc, map[string]string{
		"from": from,
		"to":   to,
	})
	if to == StatusInCare {
		s.publish(ctx, events.TypePatientCalled, events.FacilityTopic(enc.FacilityID), enc, enc)
	}
	return enc, nil
}

// mutate applies change to the encounter and recomputes the facility queue
// in the same critical section.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, change func(e *Encounter) error) (*Encounter, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	facilityID := current.FacilityID
	occupancy, err := s.facilities.Occupancy(ctx, facilityID)
	if err != nil {
		return nil, fmt.Errorf("facility %s: %w", facilityID, err)
	}

	var (
		out  *Encounter
		snap *Snapshot
	)
	err = s.repo.InFacility(ctx, facilityID, func(tx Tx) error {
		e, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := change(e); err != nil {
			return err
		}
		if err := tx.Update(ctx, e); err != nil {
			return fmt.Errorf("update encounter: %w", err)
		}
		snap, err = s.recompute(ctx, tx, facilityID, occupancy)
		if err != nil {
			return err
		}
		out, err = tx.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.storeSnapshot(snap)
	s.publish(ctx, events.TypeQueueUpdated, events.FacilityTopic(facilityID), nil, snap)
	return out, nil
}

// RecomputeQueue reorders a facility's waiting set, for instance after its
// occupancy changed.
func (s *Service) RecomputeQueue(ctx context.Context, facilityID string) (*Snapshot, error) {
	occupancy, err := s.facilities.Occupancy(ctx, facilityID)
	if err != nil {
		return nil, fmt.Errorf("facility %s: %w", facilityID, err)
	}
	var snap *Snapshot
	err = s.repo.InFacility(ctx, facilityID, func(tx Tx) error {
		var err error
		snap, err = s.recompute(ctx, tx, facilityID, occupancy)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.storeSnapshot(snap)
	s.publish(ctx, events.TypeQueueUpdated, events.FacilityTopic(facilityID), nil, snap)
	return snap, nil
}

func (s *Service) recompute(ctx context.Context, tx Tx, facilityID string, occupancy int) (*Snapshot, error) {
	start := time.Now()
	waiting, err := tx.ListWaiting(ctx, facilityID)
	if err != nil {
		return nil, fmt.Errorf("list waiting encounters: %w", err)
	}
	placements := queue.Recompute(s.cfg.Queue, entries(waiting), occupancy)
	if err := tx.UpdatePlacements(ctx, placements); err != nil {
		return nil, fmt.Errorf("update queue placements: %w", err)
	}
	metrics.RecordQueueRecompute(time.Since(start))
	return s.buildSnapshot(facilityID, occupancy, waiting, placements), nil
}

func (s *Service) route(ctx context.Context, enc *Encounter, req RouteRequest) ([]routing.Ranked, error) {
	candidates, err := s.facilities.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = s.cfg.RoutingMaxResults
	}
	start := time.Now()
	ranked := s.router.Route(routing.Request{
		Tier:                *enc.Tier,
		PresentationID:      enc.PresentationID,
		RequiredSpecialties: routing.RequiredSpecialties(enc.PresentationID, enc.Answers),
		Candidates:          candidates,
		Origin:              req.Origin,
		MaxResults:          limit,
	})
	metrics.RecordRouting(time.Since(start))
	return ranked, nil
}

// Route ranks facilities for a triaged encounter.
func (s *Service) Route(ctx context.Context, id uuid.UUID, req RouteRequest) ([]routing.Ranked, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if enc.Tier == nil {
		return nil, fmt.Errorf("%w: encounter has not been triaged", ErrValidation)
	}
	if req.Origin != nil && (req.Origin.Lat < -90 || req.Origin.Lat > 90 || req.Origin.Lon < -180 || req.Origin.Lon > 180) {
		return nil, fmt.Errorf("%w: origin out of range", ErrValidation)
	}
	return s.route(ctx, enc, req)
}

func (s *Service) publish(ctx context.Context, eventType, topic string, enc *Encounter, payload any) {
	var facilityID, encounterID string
	if enc != nil {
		facilityID, encounterID = enc.FacilityID, enc.ID.String()
	} else if snap, ok := payload.(*Snapshot); ok {
		facilityID = snap.FacilityID
	}

	ev, err := events.New(eventType, topic, facilityID, encounterID, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	metrics.RecordEventPublished(eventType, err)
	if err != nil {
		s.logger.Warn().Err(err).Str("type", eventType).Str("topic", topic).Msg("publish event")
	}
}
