package facility

import (
	"context"
	"fmt"

	"github.com/ehr/triage/internal/domain/routing"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, f *Facility) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return fmt.Errorf("create facility: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Facility, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, f *Facility) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, f)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Facility, int, error) {
	return s.repo.List(ctx, activeOnly, limit, offset)
}

// Occupancy returns the current occupancy percentage used by the wait
// estimator.
func (s *Service) Occupancy(ctx context.Context, id string) (int, error) {
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return f.OccupancyPercent, nil
}

// Candidates returns every active facility in routing form.
func (s *Service) Candidates(ctx context.Context) ([]routing.Candidate, error) {
	items, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active facilities: %w", err)
	}
	out := make([]routing.Candidate, 0, len(items))
	for _, f := range items {
		out = append(out, f.ToCandidate())
	}
	return out, nil
}
