package triage

// GenericPresentationID names the empty fallback flowchart.
const GenericPresentationID = "generic"

// Measurement names criteria may reference. age_months and
// gestational_weeks are taken from the patient attributes, not the vitals;
// no built-in rule reads gestational_weeks.
const (
	MeasureSpO2             = "spo2"
	MeasureRespiratoryRate  = "respiratory_rate"
	MeasureSystolicBP       = "systolic_bp"
	MeasureHeartRate        = "heart_rate"
	MeasureCapillaryRefill  = "capillary_refill"
	MeasureGCS              = "gcs"
	MeasurePainScale        = "pain_scale"
	MeasureTemperature      = "temperature"
	MeasurePeakFlow         = "peak_flow"
	MeasureAgeMonths        = "age_months"
	MeasureGestationalWeeks = "gestational_weeks"
)

func builtinGeneral() []DiscriminatorDef {
	return []DiscriminatorDef{
		{
			ID:          "airway_compromised",
			Description: "Compromised airway",
			Tier:        Red,
			Questions: []string{
				"Is the patient unable to speak?",
				"Is there visible airway obstruction?",
				"Is the patient choking?",
				"Is stridor audible?",
			},
			Criteria: map[string]string{MeasureSpO2: "<90"},
		},
		{
			ID:          "inadequate_breathing",
			Description: "Inadequate breathing",
			Tier:        Red,
			Questions: []string{
				"Is breathing absent or gasping?",
				"Respiratory rate below 10 or above 36?",
				"Extreme use of accessory muscles?",
				"Central cyanosis?",
			},
			Criteria: map[string]string{
				MeasureRespiratoryRate: "<10 or >36",
				MeasureSpO2:            "<90",
			},
		},
		{
			ID:          "shock",
			Description: "Signs of shock",
			Tier:        Red,
			Questions: []string{
				"Weak and rapid pulse?",
				"Capillary refill above 2 seconds?",
				"Systolic BP below 90 mmHg?",
				"Acute change in level of consciousness?",
			},
			Criteria: map[string]string{
				MeasureSystolicBP:      "<90",
				MeasureHeartRate:       ">120",
				MeasureCapillaryRefill: ">2",
			},
		},
		{
			ID:          "unresponsive",
			Description: "Unresponsive",
			Tier:        Red,
			Questions: []string{
				"No response to voice?",
				"GCS below 9?",
				"AVPU = U?",
			},
			Criteria: map[string]string{MeasureGCS: "<9"},
		},
		{
			ID:          "severe_pain",
			Description: "Severe pain",
			Tier:        Orange,
			Questions: []string{
				"Pain 8-10 on the pain scale?",
				"Sudden onset chest pain?",
				"Severe abdominal pain with rigidity?",
			},
			Criteria: map[string]string{MeasurePainScale: ">=8"},
		},
		{
			ID:          "altered_consciousness",
			Description: "Altered level of consciousness",
			Tier:        Orange,
			Questions: []string{
				"New confusion?",
				"GCS 9-12?",
				"Disoriented in time or place?",
			},
			Criteria: map[string]string{MeasureGCS: ">=9 and <=12"},
		},
		{
			ID:          "moderate_pain",
			Description: "Moderate pain",
			Tier:        Yellow,
			Questions: []string{
				"Pain 4-7 on the pain scale?",
				"Pain persisting for more than 6 hours?",
				"Pain interfering with activities?",
			},
			Criteria: map[string]string{MeasurePainScale: ">=4 and <=7"},
		},
		{
			ID:          "persistent_vomiting",
			Description: "Persistent vomiting",
			Tier:        Yellow,
			Questions: []string{
				"More than 3 episodes of vomiting?",
				"Unable to keep fluids down?",
				"Signs of dehydration?",
			},
		},
	}
}

var (
	infant      = AgeBracket{MinMonths: 0, MaxMonths: 2}
	youngInfant = AgeBracket{MinMonths: 3, MaxMonths: 6}
	olderInfant = AgeBracket{MinMonths: 3, MaxMonths: 12}
)

func builtinFlowcharts() []PresentationDef {
	return []PresentationDef{
		{
			ID:          "chest_pain",
			Name:        "Chest pain",
			Description: "Assessment of patients with chest pain",
			Discriminators: []DiscriminatorDef{
				{
					ID:          "cardiac_pain",
					Description: "Typical cardiac pain",
					Tier:        Orange,
					Questions: []string{
						"Crushing or pressing pain?",
						"Radiating to left arm or jaw?",
						"Associated nausea or sweating?",
						"History of heart disease?",
					},
				},
				{
					ID:          "pleuritic_pain",
					Description: "Pleuritic pain",
					Tier:        Yellow,
					Questions: []string{
						"Pain worse on deep breathing?",
						"Stabbing pain?",
						"Associated cough?",
					},
				},
			},
		},
		{
			ID:          "shortness_breath",
			Name:        "Shortness of breath",
			Description: "Assessment of patients with dyspnoea",
			Discriminators: []DiscriminatorDef{
				{
					ID:          "stridor",
					Description: "Stridor",
					Tier:        Red,
					Questions: []string{
						"High-pitched noise on inspiration?",
						"History of foreign body?",
						"Swelling of face or tongue?",
					},
				},
				{
					ID:          "wheeze",
					Description: "Wheeze",
					Tier:        Yellow,
					Questions: []string{
						"Audible wheeze?",
						"History of asthma or COPD?",
						"Using a bronchodilator?",
					},
					// percent of predicted peak flow
					Criteria: map[string]string{MeasurePeakFlow: "<70"},
				},
			},
		},
		{
			ID:          "fever_child",
			Name:        "Febrile child",
			Description: "Assessment of children with fever",
			AgeSpecific: true,
			Discriminators: []DiscriminatorDef{
				{
					ID:          "meningism",
					Description: "Meningeal signs",
					Tier:        Red,
					Questions: []string{
						"Neck stiffness?",
						"Petechiae or purpura?",
						"Severe photophobia?",
						"Positive Kernig or Brudzinski sign?",
					},
					AgeOverrides: []AgeOverride{
						{Bracket: infant, Tier: Red},
						{Bracket: youngInfant, Tier: Orange},
					},
				},
				{
					ID:          "high_fever",
					Description: "High fever",
					Tier:        Yellow,
					Questions: []string{
						"Temperature above 39°C?",
						"Fever for more than 5 days?",
						"Poor response to antipyretics?",
					},
					Criteria: map[string]string{MeasureTemperature: ">39"},
					AgeCriteria: []AgeCriterion{
						{Bracket: infant, Measurement: MeasureTemperature, Expr: ">38"},
						{Bracket: olderInfant, Measurement: MeasureTemperature, Expr: ">38.5"},
					},
				},
			},
		},
		{
			ID:          "major_trauma",
			Name:        "Major trauma",
			Description: "Assessment of multiple trauma",
			Discriminators: []DiscriminatorDef{
				{
					ID:          "catastrophic_hemorrhage",
					Description: "Catastrophic haemorrhage",
					Tier:        Red,
					Questions: []string{
						"Visible arterial bleeding?",
						"Traumatic amputation?",
						"Blood loss above 1 litre?",
						"Tourniquet applied?",
					},
				},
				{
					ID:          "mechanism_injury",
					Description: "High energy mechanism",
					Tier:        Orange,
					Questions: []string{
						"Fall from above 3 metres (6 for a child)?",
						"Collision above 30 km/h?",
						"Ejected from vehicle?",
						"Fatality in the same accident?",
						"Pedestrian struck?",
					},
				},
			},
		},
		{
			ID:          "abdominal_pain",
			Name:        "Abdominal pain",
			Description: "Assessment of abdominal pain",
			Discriminators: []DiscriminatorDef{
				{
					ID:          "peritonitis",
					Description: "Signs of peritonitis",
					Tier:        Orange,
					Questions: []string{
						"Board-like rigid abdomen?",
						"Involuntary guarding?",
						"Rebound tenderness?",
						"Absent bowel sounds?",
					},
				},
				{
					ID:          "biliary_colic",
					Description: "Biliary colic",
					Tier:        Yellow,
					Questions: []string{
						"Right upper quadrant pain?",
						"Positive Murphy sign?",
						"Associated jaundice?",
						"History of gallstones?",
					},
				},
			},
		},
		{
			ID:          "headache",
			Name:        "Headache",
			Description: "Assessment of headache",
			Discriminators: []DiscriminatorDef{
				{
					ID:          "thunderclap",
					Description: "Thunderclap headache",
					Tier:        Red,
					Questions: []string{
						"Onset in under a minute?",
						"Worst headache of their life?",
						"Associated neck stiffness?",
						"Altered consciousness?",
					},
				},
				{
					ID:          "neurological_deficit",
					Description: "Neurological deficit",
					Tier:        Orange,
					Questions: []string{
						"Focal weakness?",
						"Visual disturbance?",
						"Slurred speech?",
						"Ataxia?",
					},
				},
			},
		},
		{
			ID:                "pregnancy_labor",
			Name:              "Pregnancy and labour",
			Description:       "Obstetric assessment",
			PregnancySpecific: true,
			Discriminators: []DiscriminatorDef{
				{
					ID:          "imminent_delivery",
					Description: "Imminent delivery",
					Tier:        Red,
					Questions: []string{
						"Baby's head visible?",
						"Uncontrollable urge to push?",
						"Contractions under 2 minutes apart?",
						"Ruptured membranes with thick meconium?",
					},
				},
				{
					ID:          "vaginal_bleeding_pregnancy",
					Description: "Vaginal bleeding in pregnancy",
					Tier:        Orange,
					Questions: []string{
						"Bright red bleeding?",
						"Heavier than a normal period?",
						"Severe abdominal pain?",
						"History of placenta praevia?",
					},
				},
			},
		},
	}
}
