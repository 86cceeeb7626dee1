package triage

import (
	"github.com/rs/zerolog"
)

// DefaultReason is reported when no discriminator fires.
const DefaultReason = "No alarm signs identified"

const vitalSignsSuffix = " (vital signs)"

// Input is the clinical data submitted for one triage decision.
type Input struct {
	PresentationID   string          `json:"presentation_id"`
	Answers          map[string]bool `json:"discriminator_answers"`
	Vitals           Measurements    `json:"vitals"`
	AgeMonths        *int            `json:"age_months,omitempty"`
	IsPregnant       bool            `json:"is_pregnant"`
	GestationalWeeks *int            `json:"gestational_weeks,omitempty"`
}

// Result is the outcome of a triage decision.
type Result struct {
	Tier            Tier     `json:"tier"`
	Reason          string   `json:"reason"`
	Recommendations []string `json:"recommendations"`
	Presentation    string   `json:"presentation"`
	FellBack        bool     `json:"fell_back"`
	Discriminator   string   `json:"discriminator,omitempty"`
	MaxWaitMinutes  int      `json:"max_wait_minutes"`
}

// Engine resolves a Manchester priority from clinical input. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	catalog *Catalog
	logger  zerolog.Logger
}

func NewEngine(catalog *Catalog, logger zerolog.Logger) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Engine{catalog: catalog, logger: logger.With().Str("component", "triage").Logger()}
}

func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

type hit struct {
	tier          Tier
	discriminator string
	reason        string
}

// Resolve applies the general discriminators, then the presentation
// flowchart, and returns the most severe outcome.
func (e *Engine) Resolve(in Input) Result {
	m := in.measurements()

	general := evaluateSet(e.catalog.general, in.Answers, m, nil)
	if general != nil && general.tier == Red {
		e.logger.Warn().
			Str("presentation", in.PresentationID).
			Str("discriminator", general.discriminator).
			Msg("general discriminator resolved RED")
		return e.result(*general, in.PresentationID, false)
	}

	pres, ok := e.catalog.Flowchart(in.PresentationID)
	fellBack := !ok
	if fellBack {
		e.logger.Warn().Str("presentation", in.PresentationID).Msg("unknown presentation, using generic flowchart")
		pres = e.catalog.GenericPresentation()
	}
	if pres.AgeSpecific && in.AgeMonths == nil {
		e.logger.Warn().Str("presentation", pres.ID).Msg("age-specific presentation resolved without patient age")
	}
	if pres.PregnancySpecific && !in.IsPregnant {
		e.logger.Debug().Str("presentation", pres.ID).Msg("obstetric presentation for patient not flagged pregnant")
	}

	specific := evaluateSet(pres.Discriminators, in.Answers, m, in.AgeMonths)

	final := general
	if specific != nil && (final == nil || specific.tier.MoreSevereThan(final.tier)) {
		final = specific
	}
	if final == nil {
		final = &hit{tier: Green, reason: DefaultReason}
	}

	res := e.result(*final, in.PresentationID, fellBack)
	ev := e.logger.Debug()
	if res.Tier == Red {
		ev = e.logger.Warn()
	}
	ev.Str("presentation", in.PresentationID).
		Str("tier", res.Tier.String()).
		Str("discriminator", res.Discriminator).
		Msg("triage resolved")
	return res
}

func (e *Engine) result(h hit, presentationID string, fellBack bool) Result {
	return Result{
		Tier:            h.tier,
		Reason:          h.reason,
		Recommendations: Recommendations(h.tier, presentationID, h.reason),
		Presentation:    presentationID,
		FellBack:        fellBack,
		Discriminator:   h.discriminator,
		MaxWaitMinutes:  h.tier.MaxWaitMinutes(),
	}
}

// EvaluateCondition is the runtime form of the package function; malformed
// expressions are logged and evaluate to false.
func (e *Engine) EvaluateCondition(expr, name string, m Measurements) bool {
	ok, err := EvaluateCondition(expr, name, m)
	if err != nil {
		e.logger.Warn().Err(err).Str("measurement", name).Msg("malformed criteria expression")
	}
	return ok
}

// measurements merges vitals with the patient attributes criteria may use.
func (in Input) measurements() Measurements {
	m := make(Measurements, len(in.Vitals)+2)
	for k, v := range in.Vitals {
		m[k] = v
	}
	if in.AgeMonths != nil {
		m[MeasureAgeMonths] = *in.AgeMonths
	}
	if in.GestationalWeeks != nil {
		m[MeasureGestationalWeeks] = *in.GestationalWeeks
	}
	return m
}

// evaluateSet returns the most severe triggered discriminator, or nil. Ties
// keep the earlier discriminator, and a confirmed answer takes precedence over
// a vital-sign match on the same rule.
func evaluateSet(set []Discriminator, answers map[string]bool, m Measurements, ageMonths *int) *hit {
	var best *hit
	for _, d := range set {
		var reason string
		switch {
		case answers[d.ID]:
			reason = d.Description
		case d.MatchesMeasurements(m, ageMonths):
			reason = d.Description + vitalSignsSuffix
		default:
			continue
		}
		tier := d.TierFor(ageMonths)
		if best == nil || tier.MoreSevereThan(best.tier) {
			best = &hit{tier: tier, discriminator: d.ID, reason: reason}
		}
	}
	return best
}
