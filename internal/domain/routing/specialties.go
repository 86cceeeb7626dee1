package routing

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Specialty codes.
const (
	SpecialtyCardiology         = "CARDIOLOGY"
	SpecialtyGeneralPractice    = "GENERAL_PRACTICE"
	SpecialtyEmergency          = "EMERGENCY"
	SpecialtyPulmonology        = "PULMONOLOGY"
	SpecialtyGastroenterology   = "GASTROENTEROLOGY"
	SpecialtySurgery            = "SURGERY"
	SpecialtyNeurology          = "NEUROLOGY"
	SpecialtyOrthopedics        = "ORTHOPEDICS"
	SpecialtyPediatrics         = "PEDIATRICS"
	SpecialtyPediatricEmergency = "PEDIATRIC_EMERGENCY"
	SpecialtyObstetrics         = "OBSTETRICS"
	SpecialtyGynecology         = "GYNECOLOGY"
)

var presentationSpecialties = map[string][]string{
	"chest_pain":       {SpecialtyCardiology, SpecialtyGeneralPractice, SpecialtyEmergency},
	"shortness_breath": {SpecialtyPulmonology, SpecialtyCardiology, SpecialtyEmergency},
	"abdominal_pain":   {SpecialtyGastroenterology, SpecialtySurgery, SpecialtyGeneralPractice},
	"headache":         {SpecialtyNeurology, SpecialtyGeneralPractice},
	"major_trauma":     {SpecialtyOrthopedics, SpecialtySurgery, SpecialtyEmergency},
	"fever_child":      {SpecialtyPediatrics, SpecialtyPediatricEmergency},
	"pregnancy_labor":  {SpecialtyObstetrics, SpecialtyGynecology},
}

var discriminatorSpecialties = map[string]string{
	"cardiac_pain":            SpecialtyCardiology,
	"neurological_deficit":    SpecialtyNeurology,
	"catastrophic_hemorrhage": SpecialtySurgery,
}

// RequiredSpecialties derives the specialties useful for a presentation and
// the discriminators confirmed for it. The result is sorted.
func RequiredSpecialties(presentationID string, answers map[string]bool) []string {
	set := mapset.NewThreadUnsafeSet[string]()
	if base, ok := presentationSpecialties[presentationID]; ok {
		set.Append(base...)
	} else {
		set.Add(SpecialtyGeneralPractice)
	}
	for id, yes := range answers {
		if s, ok := discriminatorSpecialties[id]; ok && yes {
			set.Add(s)
		}
	}
	out := set.ToSlice()
	sort.Strings(out)
	return out
}
