package facility

import "context"

type Repository interface {
	Create(ctx context.Context, f *Facility) error
	GetByID(ctx context.Context, id string) (*Facility, error)
	Update(ctx context.Context, f *Facility) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Facility, int, error)
	ListActive(ctx context.Context) ([]*Facility, error)
}
