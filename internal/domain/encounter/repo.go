package encounter

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/triage/internal/domain/queue"
)

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	FacilityID string
	Status     string
}

// Tx is the view of the store available while a facility's waiting set is
// held exclusively.
type Tx interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, e *Encounter) error
	ListWaiting(ctx context.Context, facilityID string) ([]*Encounter, error)
	UpdatePlacements(ctx context.Context, placements []queue.Placement) error
}

type Repository interface {
	// Create assigns the insertion sequence and timestamps.
	Create(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Encounter, int, error)
	ListWaiting(ctx context.Context, facilityID string) ([]*Encounter, error)
	// InFacility runs fn with exclusive access to the facility's waiting set.
	// Writes made through the Tx are committed only when fn returns nil.
	InFacility(ctx context.Context, facilityID string, fn func(tx Tx) error) error
}
