// Package events defines the notifications emitted when a facility's triage
// state changes and the publishers that deliver them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeTriageUpdated  = "triage_updated"
	TypeQueueUpdated   = "queue_updated"
	TypeEmergency      = "emergency_alert"
	TypePatientCalled  = "patient_called"
	TypeStatusChanged  = "status_changed"
	TypeTierOverridden = "tier_overridden"
)

// Event is a plain notification published to a topic.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Topic       string          `json:"topic"`
	FacilityID  string          `json:"facility_id"`
	EncounterID string          `json:"encounter_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// FacilityTopic carries every event for one facility.
func FacilityTopic(facilityID string) string {
	return "facility/" + facilityID
}

// EmergencyTopic carries RED and ORANGE alerts for one facility.
func EmergencyTopic(facilityID string) string {
	return "facility/" + facilityID + "/emergency"
}

// New builds an event with a fresh id and the payload marshalled as Data.
func New(eventType, topic, facilityID, encounterID string, payload any) (Event, error) {
	ev := Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Topic:       topic,
		FacilityID:  facilityID,
		EncounterID: encounterID,
		Timestamp:   time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		ev.Data = data
	}
	return ev, nil
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
