// Package routing ranks facilities for a triaged patient.
package routing

import (
	"fmt"
	"math"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ehr/triage/internal/domain/triage"
)

// Facility types.
const (
	TypeHospital     = "HOSPITAL"
	TypeED           = "ED"
	TypeUrgentCare   = "URGENT_CARE"
	TypePrimaryCare  = "PRIMARY_CARE"
	TypeMentalHealth = "MENTAL_HEALTH"
	TypeSpecialty    = "SPECIALTY"
)

// Resources with routing significance.
const (
	ResourceRedRoom      = "red_room"
	ResourceCathLab      = "cath_lab"
	ResourceTraumaCenter = "trauma_center"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Candidate is the routing view of a facility.
type Candidate struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	Location           Point    `json:"location"`
	OccupancyPercent   int      `json:"occupancy_percent"`
	AverageWaitMinutes int      `json:"average_wait_minutes"`
	Resources          []string `json:"resources"`
	Specialties        []string `json:"specialties"`
	AcceptsEmergencies bool     `json:"accepts_emergencies"`
	AcceptsWalkins     bool     `json:"accepts_walkins"`
	Is24h              bool     `json:"is_24h"`
}

// ResourceBonus rewards a facility holding Resource when routing the given
// presentation.
type ResourceBonus struct {
	Presentation string
	Resource     string
	Bonus        float64
}

// OccupancyPenalty subtracts Penalty when occupancy is strictly above Above.
type OccupancyPenalty struct {
	Above   int
	Penalty float64
}

// Weights are the scoring constants.
type Weights struct {
	Base             float64
	DistanceRed      float64
	DistanceOrange   float64
	DistanceOther    float64
	Occupancy        []OccupancyPenalty
	SpecialtyBonus   float64
	HospitalBonus    float64
	EDBonus          float64
	PrimaryCareBonus float64
	Resources        []ResourceBonus
	// CriticalWaitCap bounds the reported wait for RED and ORANGE patients.
	CriticalWaitCap int
}

func DefaultWeights() Weights {
	return Weights{
		Base:           100,
		DistanceRed:    5,
		DistanceOrange: 3,
		DistanceOther:  1.5,
		Occupancy: []OccupancyPenalty{
			{Above: 90, Penalty: 30},
			{Above: 70, Penalty: 15},
			{Above: 50, Penalty: 5},
		},
		SpecialtyBonus:   25,
		HospitalBonus:    20,
		EDBonus:          15,
		PrimaryCareBonus: 10,
		Resources: []ResourceBonus{
			{Presentation: "chest_pain", Resource: ResourceCathLab, Bonus: 15},
			{Presentation: "major_trauma", Resource: ResourceTraumaCenter, Bonus: 20},
		},
		CriticalWaitCap: 10,
	}
}

// Request carries everything needed to rank candidates.
type Request struct {
	Tier                triage.Tier
	PresentationID      string
	RequiredSpecialties []string
	Candidates          []Candidate
	Origin              *Point
	MaxResults          int
}

// Ranked is one scored routing option.
type Ranked struct {
	Facility             Candidate `json:"facility"`
	Score                float64   `json:"score"`
	DistanceKm           *float64  `json:"distance_km,omitempty"`
	HasSpecialty         bool      `json:"has_specialty"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
	Recommendation       string    `json:"recommendation"`
	RouteURL             string    `json:"route_url,omitempty"`
}

type Router struct {
	weights Weights
}

func NewRouter(w Weights) *Router {
	return &Router{weights: w}
}

// Route filters candidates by urgency, scores them and returns the best
// MaxResults (all when MaxResults <= 0).
func (r *Router) Route(req Request) []Ranked {
	triage.MustValid(req.Tier)
	required := mapset.NewThreadUnsafeSet(req.RequiredSpecialties...)

	var out []Ranked
	for _, c := range req.Candidates {
		if !Eligible(req.Tier, c) {
			continue
		}
		out = append(out, r.score(req, required, c))
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		da, db := distanceOrZero(a.DistanceKm), distanceOrZero(b.DistanceKm)
		if da != db {
			return da < db
		}
		return a.Facility.ID < b.Facility.ID
	})

	if req.MaxResults > 0 && len(out) > req.MaxResults {
		out = out[:req.MaxResults]
	}
	return out
}

func (r *Router) score(req Request, required mapset.Set[string], c Candidate) Ranked {
	w := r.weights
	score := w.Base
	ranked := Ranked{Facility: c}

	if req.Origin != nil {
		d := DistanceKm(*req.Origin, c.Location)
		ranked.DistanceKm = &d
		ranked.RouteURL = RouteURL(*req.Origin, c.Location)
		switch req.Tier {
		case triage.Red:
			score -= d * w.DistanceRed
		case triage.Orange:
			score -= d * w.DistanceOrange
		default:
			score -= d * w.DistanceOther
		}
	}

	for _, p := range w.Occupancy {
		if c.OccupancyPercent > p.Above {
			score -= p.Penalty
			break
		}
	}

	staffed := mapset.NewThreadUnsafeSet(c.Specialties...)
	if required.Intersect(staffed).Cardinality() > 0 {
		ranked.HasSpecialty = true
		score += w.SpecialtyBonus
	}

	switch req.Tier {
	case triage.Red, triage.Orange:
		switch c.Type {
		case TypeHospital:
			score += w.HospitalBonus
		case TypeED:
			score += w.EDBonus
		}
	case triage.Green, triage.Blue:
		if c.Type == TypePrimaryCare {
			score += w.PrimaryCareBonus
		}
	}

	resources := mapset.NewThreadUnsafeSet(c.Resources...)
	for _, rb := range w.Resources {
		if rb.Presentation == req.PresentationID && resources.Contains(rb.Resource) {
			score += rb.Bonus
		}
	}

	ranked.Score = math.Max(0, score)
	ranked.EstimatedWaitMinutes = c.AverageWaitMinutes
	if (req.Tier == triage.Red || req.Tier == triage.Orange) && ranked.EstimatedWaitMinutes > w.CriticalWaitCap {
		ranked.EstimatedWaitMinutes = w.CriticalWaitCap
	}
	ranked.Recommendation = Recommendation(req.Tier, c.Name, ranked.EstimatedWaitMinutes)
	return ranked
}

// Eligible is the urgency gate: which facility types may receive a patient
// of the given tier.
func Eligible(tier triage.Tier, c Candidate) bool {
	switch tier {
	case triage.Red:
		return (c.Type == TypeHospital || c.Type == TypeED) &&
			c.AcceptsEmergencies &&
			mapset.NewThreadUnsafeSet(c.Resources...).Contains(ResourceRedRoom)
	case triage.Orange:
		return (c.Type == TypeHospital || c.Type == TypeED || c.Type == TypeUrgentCare) && c.AcceptsEmergencies
	case triage.Yellow:
		return (c.Type == TypeHospital || c.Type == TypeED || c.Type == TypeUrgentCare) &&
			(c.AcceptsEmergencies || c.AcceptsWalkins)
	case triage.Green, triage.Blue:
		return c.AcceptsWalkins || c.Is24h
	}
	triage.MustValid(tier)
	return false
}

// DistanceKm is the great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func distanceOrZero(d *float64) float64 {
	if d == nil {
		return 0
	}
	return *d
}

// RouteURL links to turn-by-turn directions from origin to dest.
func RouteURL(origin, dest Point) string {
	return fmt.Sprintf("https://www.google.com/maps/dir/%g,%g/%g,%g", origin.Lat, origin.Lon, dest.Lat, dest.Lon)
}

// Recommendation is the patient-facing instruction for a chosen facility.
func Recommendation(tier triage.Tier, facilityName string, waitMinutes int) string {
	switch tier {
	case triage.Red:
		return fmt.Sprintf("EMERGENCY: go to %s immediately. Call emergency services if you can.", facilityName)
	case triage.Orange:
		return fmt.Sprintf("Very urgent: go to %s now. Maximum wait 10 minutes.", facilityName)
	case triage.Yellow:
		return fmt.Sprintf("Urgent: go to %s within the next 60 minutes.", facilityName)
	case triage.Green:
		return fmt.Sprintf("Visit %s today. Estimated wait %d minutes.", facilityName, waitMinutes)
	case triage.Blue:
		return fmt.Sprintf("Not urgent: book an appointment at %s or visit primary care.", facilityName)
	}
	triage.MustValid(tier)
	return ""
}
