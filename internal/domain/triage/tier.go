package triage

import (
	"fmt"
	"strings"
)

// Tier is a Manchester priority level. Lower values are more urgent.
type Tier int

const (
	Red Tier = iota + 1
	Orange
	Yellow
	Green
	Blue
)

type tierInfo struct {
	name    string
	label   string
	color   string
	maxWait int
}

var tierTable = [...]tierInfo{
	Red:    {name: "RED", label: "Emergency", color: "#FF0000", maxWait: 0},
	Orange: {name: "ORANGE", label: "Very urgent", color: "#FFA500", maxWait: 10},
	Yellow: {name: "YELLOW", label: "Urgent", color: "#FFFF00", maxWait: 60},
	Green:  {name: "GREEN", label: "Standard", color: "#00FF00", maxWait: 120},
	Blue:   {name: "BLUE", label: "Non-urgent", color: "#0000FF", maxWait: 240},
}

// AllTiers returns every tier from most to least urgent.
func AllTiers() []Tier {
	return []Tier{Red, Orange, Yellow, Green, Blue}
}

func (t Tier) Valid() bool {
	return t >= Red && t <= Blue
}

// Rank is the ordering key; it equals the numeric tier value.
func (t Tier) Rank() int {
	MustValid(t)
	return int(t)
}

// MaxWaitMinutes is the target maximum time to first clinical contact.
func (t Tier) MaxWaitMinutes() int {
	MustValid(t)
	return tierTable[t].maxWait
}

func (t Tier) Label() string {
	MustValid(t)
	return tierTable[t].label
}

func (t Tier) Color() string {
	MustValid(t)
	return tierTable[t].color
}

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierTable[t].name
}

// MoreSevereThan reports whether t outranks other.
func (t Tier) MoreSevereThan(other Tier) bool {
	return t.Rank() < other.Rank()
}

// MostSevere returns the more urgent of a and b, preferring a on a tie.
func MostSevere(a, b Tier) Tier {
	if b.MoreSevereThan(a) {
		return b
	}
	return a
}

// MustValid panics when t is outside the five defined tiers. Callers at the
// edge of the system validate input before it reaches the core.
func MustValid(t Tier) {
	if !t.Valid() {
		panic(fmt.Sprintf("triage: invalid tier %d", int(t)))
	}
}

// ParseTier accepts the tier name (case-insensitive) or its rank as text.
func ParseTier(s string) (Tier, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, t := range AllTiers() {
		if tierTable[t].name == s || fmt.Sprint(int(t)) == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
