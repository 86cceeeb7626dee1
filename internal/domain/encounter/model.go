// Package encounter tracks patients from arrival to disposition and keeps each
// facility's waiting queue ordered.
package encounter

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/triage/internal/domain/queue"
	"github.com/ehr/triage/internal/domain/triage"
)

var (
	ErrNotFound          = errors.New("encounter not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("invalid request")
)

// Encounter statuses.
const (
	StatusArrival     = "ARRIVAL"
	StatusTriage      = "TRIAGE"
	StatusWaiting     = "WAITING"
	StatusInCare      = "IN_CARE"
	StatusDischarged  = "DISCHARGED"
	StatusTransferred = "TRANSFERRED"
	StatusLeft        = "LEFT"
)

var transitions = map[string][]string{
	StatusArrival: {StatusTriage, StatusWaiting, StatusLeft},
	StatusTriage:  {StatusWaiting, StatusLeft},
	StatusWaiting: {StatusInCare, StatusLeft},
	StatusInCare:  {StatusDischarged, StatusTransferred, StatusLeft},
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s string) bool {
	switch s {
	case StatusArrival, StatusTriage, StatusWaiting, StatusInCare,
		StatusDischarged, StatusTransferred, StatusLeft:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	return status == StatusDischarged || status == StatusTransferred || status == StatusLeft
}

// canTriage lists the statuses in which the encounter may be (re)triaged or
// overridden. Either leaves it WAITING.
func canTriage(status string) bool {
	return status == StatusArrival || status == StatusTriage || status == StatusWaiting
}

// Encounter maps to the encounters table.
type Encounter struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Seq         int64     `db:"seq" json:"seq"`
	FacilityID  string    `db:"facility_id" json:"facility_id"`
	PatientRef  string    `db:"patient_ref" json:"patient_ref"`
	ArrivalTime time.Time `db:"arrival_time" json:"arrival_time"`
	Status      string    `db:"status" json:"status"`

	PresentationID   string              `db:"presentation_id" json:"presentation_id,omitempty"`
	Answers          map[string]bool     `db:"answers" json:"discriminator_answers,omitempty"`
	Vitals           triage.Measurements `db:"vitals" json:"vitals,omitempty"`
	AgeMonths        *int                `db:"age_months" json:"age_months,omitempty"`
	IsPregnant       bool                `db:"is_pregnant" json:"is_pregnant"`
	GestationalWeeks *int                `db:"gestational_weeks" json:"gestational_weeks,omitempty"`

	Tier             *triage.Tier `db:"tier" json:"tier,omitempty"`
	Reason           string       `db:"reason" json:"reason,omitempty"`
	Recommendations  []string     `db:"recommendations" json:"recommendations,omitempty"`
	ClinicalOverride bool         `db:"clinical_override" json:"clinical_override"`
	OverrideReason   *string      `db:"override_reason" json:"override_reason,omitempty"`

	QueuePosition        *int `db:"queue_position" json:"queue_position,omitempty"`
	EstimatedWaitMinutes *int `db:"estimated_wait_minutes" json:"estimated_wait_minutes,omitempty"`

	TriagedAt *time.Time `db:"triaged_at" json:"triaged_at,omitempty"`
	CalledAt  *time.Time `db:"called_at" json:"called_at,omitempty"`
	ClosedAt  *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// QueueEntry returns the queue view of a WAITING encounter.
func (e *Encounter) QueueEntry() queue.Entry {
	var tier triage.Tier
	if e.Tier != nil {
		tier = *e.Tier
	}
	return queue.Entry{
		ID:          e.ID.String(),
		Tier:        tier,
		ArrivalTime: e.ArrivalTime,
		Seq:         e.Seq,
	}
}

// TriageInput rebuilds the clinical input last submitted for the encounter.
func (e *Encounter) TriageInput() triage.Input {
	return triage.Input{
		PresentationID:   e.PresentationID,
		Answers:          e.Answers,
		Vitals:           e.Vitals,
		AgeMonths:        e.AgeMonths,
		IsPregnant:       e.IsPregnant,
		GestationalWeeks: e.GestationalWeeks,
	}
}

func (e *Encounter) clearPlacement() {
	e.QueuePosition = nil
	e.EstimatedWaitMinutes = nil
}

func (e *Encounter) applyPlacement(p queue.Placement) {
	pos, wait := p.Position, p.EstimatedWaitMinutes
	e.QueuePosition = &pos
	e.EstimatedWaitMinutes = &wait
}
