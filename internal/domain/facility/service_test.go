package facility

import (
	"context"
	"errors"
	"testing"

	"github.com/ehr/triage/internal/domain/routing"
)

func sampleFacility(id string) *Facility {
	return &Facility{
		ID:                 id,
		Name:               "Central Hospital " + id,
		Type:               routing.TypeHospital,
		Latitude:           -23.55,
		Longitude:          -46.63,
		OccupancyPercent:   60,
		AverageWaitMinutes: 40,
		Resources:          []string{routing.ResourceRedRoom},
		Specialties:        []string{routing.SpecialtyCardiology},
		AcceptsEmergencies: true,
		Is24h:              true,
		Active:             true,
	}
}

func TestFacility_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *Facility)
		wantErr bool
	}{
		{"valid", func(*Facility) {}, false},
		{"missing name", func(f *Facility) { f.Name = "" }, true},
		{"bad type", func(f *Facility) { f.Type = "CLINIC" }, true},
		{"bad latitude", func(f *Facility) { f.Latitude = 91 }, true},
		{"bad longitude", func(f *Facility) { f.Longitude = -181 }, true},
		{"occupancy over 100", func(f *Facility) { f.OccupancyPercent = 101 }, true},
		{"negative wait", func(f *Facility) { f.AverageWaitMinutes = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := sampleFacility("f1")
			tt.mutate(f)
			if err := f.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_CreateAndGet(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()

	f := sampleFacility("")
	if err := svc.Create(ctx, f); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := svc.Get(ctx, f.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != f.Name || len(got.Resources) != 1 {
		t.Errorf("unexpected facility %+v", got)
	}

	occ, err := svc.Occupancy(ctx, f.ID)
	if err != nil || occ != 60 {
		t.Errorf("Occupancy = %d, %v; want 60", occ, err)
	}
}

func TestService_CreateRejectsInvalid(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	f := sampleFacility("f1")
	f.Type = ""
	if err := svc.Create(context.Background(), f); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestService_NotFound(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if err := svc.Update(ctx, sampleFacility("missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update: expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete: expected ErrNotFound, got %v", err)
	}
}

func TestService_CandidatesSkipInactive(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()

	active := sampleFacility("b")
	inactive := sampleFacility("a")
	inactive.Active = false
	for _, f := range []*Facility{active, inactive} {
		if err := svc.Create(ctx, f); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	cands, err := svc.Candidates(ctx)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 1 || cands[0].ID != "b" {
		t.Fatalf("expected only active facility b, got %+v", cands)
	}
	if cands[0].Location.Lat != -23.55 || !cands[0].AcceptsEmergencies {
		t.Errorf("unexpected candidate %+v", cands[0])
	}

	items, total, err := svc.List(ctx, false, 10, 0)
	if err != nil || total != 2 || len(items) != 2 {
		t.Errorf("List(all) = %d items, total %d, err %v", len(items), total, err)
	}
}

func TestMemoryRepo_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	f := sampleFacility("f1")
	if err := repo.Create(ctx, f); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, _ := repo.GetByID(ctx, "f1")
	got.Resources[0] = "changed"

	again, _ := repo.GetByID(ctx, "f1")
	if again.Resources[0] != routing.ResourceRedRoom {
		t.Fatal("repository state was mutated through a returned value")
	}
}
