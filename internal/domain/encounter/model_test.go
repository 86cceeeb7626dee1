package encounter

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/triage/internal/domain/queue"
	"github.com/ehr/triage/internal/domain/triage"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusArrival, StatusTriage, true},
		{StatusArrival, StatusWaiting, true},
		{StatusArrival, StatusLeft, true},
		{StatusArrival, StatusInCare, false},
		{StatusTriage, StatusWaiting, true},
		{StatusWaiting, StatusInCare, true},
		{StatusWaiting, StatusLeft, true},
		{StatusWaiting, StatusDischarged, false},
		{StatusInCare, StatusDischarged, true},
		{StatusInCare, StatusTransferred, true},
		{StatusInCare, StatusWaiting, false},
		{StatusDischarged, StatusWaiting, false},
		{StatusLeft, StatusArrival, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidStatusAndTerminal(t *testing.T) {
	for _, s := range []string{StatusArrival, StatusTriage, StatusWaiting, StatusInCare, StatusDischarged, StatusTransferred, StatusLeft} {
		if !ValidStatus(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if ValidStatus("waiting") {
		t.Error("statuses are case-sensitive")
	}
	if !IsTerminal(StatusLeft) || !IsTerminal(StatusDischarged) || IsTerminal(StatusInCare) {
		t.Error("unexpected terminal classification")
	}
}

func TestEncounter_QueueEntry(t *testing.T) {
	tier := triage.Yellow
	arrival := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e := &Encounter{ID: uuid.New(), Seq: 7, Tier: &tier, ArrivalTime: arrival}

	entry := e.QueueEntry()
	if entry.ID != e.ID.String() || entry.Tier != triage.Yellow || entry.Seq != 7 || !entry.ArrivalTime.Equal(arrival) {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestEncounter_Placement(t *testing.T) {
	e := &Encounter{}
	e.applyPlacement(queue.Placement{Position: 3, EstimatedWaitMinutes: 60})
	if e.QueuePosition == nil || *e.QueuePosition != 3 || *e.EstimatedWaitMinutes != 60 {
		t.Fatalf("placement not applied: %+v", e)
	}
	e.clearPlacement()
	if e.QueuePosition != nil || e.EstimatedWaitMinutes != nil {
		t.Fatal("placement not cleared")
	}
}
