package triage

var baseRecommendations = map[Tier][]string{
	Red: {
		"Immediate care, risk to life",
		"Move to the resuscitation room now",
		"Activate the emergency team",
		"Advanced airway equipment at hand",
		"Central venous access if needed",
		"Continuous monitoring",
	},
	Orange: {
		"Medical assessment within 10 minutes",
		"Reassess vital signs every 10 minutes",
		"Keep under close observation",
		"Consider priority diagnostics",
	},
	Yellow: {
		"Medical assessment within 60 minutes",
		"Reassess if symptoms worsen",
		"Monitor vital signs every 30 minutes",
	},
	Green: {
		"Medical assessment within 120 minutes",
		"Reassess if needed",
		"Explain warning signs to the patient",
	},
	Blue: {
		"Non-urgent care",
		"Consider referral to primary care",
		"General health advice",
	},
}

var presentationRecommendations = map[string]struct {
	minTier Tier
	items   []string
}{
	"chest_pain": {
		minTier: Orange,
		items: []string{
			"ECG within 10 minutes",
			"Large-bore venous access",
			"Prepare cardiac medication",
			"Notify cardiology",
		},
	},
	"major_trauma": {
		minTier: Blue,
		items: []string{
			"Activate the trauma protocol",
			"Prepare the trauma bay",
			"Request blood products",
			"Prioritise X-ray and CT",
		},
	},
}

// Recommendations returns the care instructions for a resolved tier. The
// result depends only on its arguments.
func Recommendations(tier Tier, presentationID, reason string) []string {
	MustValid(tier)
	var out []string
	if tier == Red {
		out = append(out, "EMERGENCY: "+reason)
	}
	out = append(out, baseRecommendations[tier]...)
	if extra, ok := presentationRecommendations[presentationID]; ok && !extra.minTier.MoreSevereThan(tier) {
		out = append(out, extra.items...)
	}
	return out
}
