// Package facility manages the directory of care facilities that patients
// are queued in and routed to.
package facility

import (
	"errors"
	"fmt"
	"time"

	"github.com/ehr/triage/internal/domain/routing"
)

var ErrNotFound = errors.New("facility not found")

var validTypes = map[string]bool{
	routing.TypeHospital:     true,
	routing.TypeED:           true,
	routing.TypeUrgentCare:   true,
	routing.TypePrimaryCare:  true,
	routing.TypeMentalHealth: true,
	routing.TypeSpecialty:    true,
}

// Facility maps to the facilities table.
type Facility struct {
	ID                 string    `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	Type               string    `db:"type" json:"type"`
	Latitude           float64   `db:"latitude" json:"latitude"`
	Longitude          float64   `db:"longitude" json:"longitude"`
	OccupancyPercent   int       `db:"occupancy_percent" json:"occupancy_percent"`
	AverageWaitMinutes int       `db:"average_wait_minutes" json:"average_wait_minutes"`
	Resources          []string  `db:"resources" json:"resources"`
	Specialties        []string  `db:"specialties" json:"specialties"`
	AcceptsEmergencies bool      `db:"accepts_emergencies" json:"accepts_emergencies"`
	AcceptsWalkins     bool      `db:"accepts_walkins" json:"accepts_walkins"`
	Is24h              bool      `db:"is_24h" json:"is_24h"`
	Active             bool      `db:"active" json:"active"`
	Phone              *string   `db:"phone" json:"phone,omitempty"`
	Address            *string   `db:"address" json:"address,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

func (f *Facility) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validTypes[f.Type] {
		return fmt.Errorf("invalid facility type %q", f.Type)
	}
	if f.Latitude < -90 || f.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90")
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180")
	}
	if f.OccupancyPercent < 0 || f.OccupancyPercent > 100 {
		return fmt.Errorf("occupancy_percent must be between 0 and 100")
	}
	if f.AverageWaitMinutes < 0 {
		return fmt.Errorf("average_wait_minutes must not be negative")
	}
	return nil
}

// ToCandidate returns the routing view of the facility.
func (f *Facility) ToCandidate() routing.Candidate {
	return routing.Candidate{
		ID:                 f.ID,
		Name:               f.Name,
		Type:               f.Type,
		Location:           routing.Point{Lat: f.Latitude, Lon: f.Longitude},
		OccupancyPercent:   f.OccupancyPercent,
		AverageWaitMinutes: f.AverageWaitMinutes,
		Resources:          f.Resources,
		Specialties:        f.Specialties,
		AcceptsEmergencies: f.AcceptsEmergencies,
		AcceptsWalkins:     f.AcceptsWalkins,
		Is24h:              f.Is24h,
	}
}
