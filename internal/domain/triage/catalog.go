package triage

import (
	"fmt"
	"sort"
	"sync"
)

// AgeBracket is an inclusive range of ages in months.
type AgeBracket struct {
	MinMonths int `json:"min_months"`
	MaxMonths int `json:"max_months"`
}

func (b AgeBracket) Contains(months int) bool {
	return months >= b.MinMonths && months <= b.MaxMonths
}

func (b AgeBracket) String() string {
	return fmt.Sprintf("%d-%d months", b.MinMonths, b.MaxMonths)
}

func (b AgeBracket) validate() error {
	if b.MinMonths < 0 || b.MaxMonths < b.MinMonths {
		return fmt.Errorf("malformed age bracket %d-%d", b.MinMonths, b.MaxMonths)
	}
	return nil
}

// AgeOverride replaces a discriminator's tier for patients inside Bracket.
type AgeOverride struct {
	Bracket AgeBracket `json:"bracket"`
	Tier    Tier       `json:"tier"`
}

// AgeCriterion replaces the expression used for one measurement for
// patients inside Bracket.
type AgeCriterion struct {
	Bracket     AgeBracket `json:"bracket"`
	Measurement string     `json:"measurement"`
	Expr        string     `json:"expr"`
}

// DiscriminatorDef is the uncompiled form of a discriminator.
type DiscriminatorDef struct {
	ID           string
	Description  string
	Tier         Tier
	Questions    []string
	Criteria     map[string]string
	AgeOverrides []AgeOverride
	AgeCriteria  []AgeCriterion
}

// PresentationDef is the uncompiled form of a flowchart.
type PresentationDef struct {
	ID                string
	Name              string
	Description       string
	AgeSpecific       bool
	PregnancySpecific bool
	Discriminators    []DiscriminatorDef
}

// Criterion is a compiled measurement test.
type Criterion struct {
	Measurement string `json:"measurement"`
	Expr        Expr   `json:"-"`
	Source      string `json:"expr"`
}

type ageCriterion struct {
	bracket     AgeBracket
	measurement string
	expr        Expr
}

// Discriminator is a single compiled clinical rule.
type Discriminator struct {
	ID           string        `json:"id"`
	Description  string        `json:"description"`
	Tier         Tier          `json:"tier"`
	Questions    []string      `json:"questions,omitempty"`
	Criteria     []Criterion   `json:"criteria,omitempty"`
	AgeOverrides []AgeOverride `json:"age_overrides,omitempty"`

	ageCriteria []ageCriterion
}

// TierFor returns the discriminator tier, adjusted by the first age override
// whose bracket contains ageMonths.
func (d Discriminator) TierFor(ageMonths *int) Tier {
	if ageMonths != nil {
		for _, o := range d.AgeOverrides {
			if o.Bracket.Contains(*ageMonths) {
				return o.Tier
			}
		}
	}
	return d.Tier
}

// MatchesMeasurements reports whether any criterion is satisfied. Age-specific
// thresholds replace the default expression for their measurement.
func (d Discriminator) MatchesMeasurements(m Measurements, ageMonths *int) bool {
	if len(m) == 0 {
		return false
	}
	for _, c := range d.Criteria {
		if m.Satisfies(c.Measurement, d.exprFor(c, ageMonths)) {
			return true
		}
	}
	return false
}

func (d Discriminator) exprFor(c Criterion, ageMonths *int) Expr {
	if ageMonths == nil {
		return c.Expr
	}
	for _, ac := range d.ageCriteria {
		if ac.measurement == c.Measurement && ac.bracket.Contains(*ageMonths) {
			return ac.expr
		}
	}
	return c.Expr
}

// Presentation is a compiled flowchart.
type Presentation struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	AgeSpecific       bool            `json:"age_specific"`
	PregnancySpecific bool            `json:"pregnancy_specific"`
	Discriminators    []Discriminator `json:"discriminators"`
}

// Catalog is the immutable rule set: general discriminators plus one
// flowchart per presentation.
type Catalog struct {
	general    []Discriminator
	flowcharts map[string]*Presentation
	order      []string
	generic    *Presentation
}

// NewCatalog compiles and validates the given definitions.
func NewCatalog(general []DiscriminatorDef, flowcharts []PresentationDef) (*Catalog, error) {
	gen, err := compileSet("general", general)
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		general:    gen,
		flowcharts: make(map[string]*Presentation, len(flowcharts)),
		generic: &Presentation{
			ID:          GenericPresentationID,
			Name:        "Generic",
			Description: "No specific flowchart",
		},
	}
	for _, def := range flowcharts {
		if def.ID == "" {
			return nil, fmt.Errorf("flowchart with empty id")
		}
		if _, dup := c.flowcharts[def.ID]; dup || def.ID == GenericPresentationID {
			return nil, fmt.Errorf("duplicate flowchart %q", def.ID)
		}
		discs, err := compileSet(def.ID, def.Discriminators)
		if err != nil {
			return nil, err
		}
		c.flowcharts[def.ID] = &Presentation{
			ID:                def.ID,
			Name:              def.Name,
			Description:       def.Description,
			AgeSpecific:       def.AgeSpecific,
			PregnancySpecific: def.PregnancySpecific,
			Discriminators:    discs,
		}
		c.order = append(c.order, def.ID)
	}
	return c, nil
}

func compileSet(set string, defs []DiscriminatorDef) ([]Discriminator, error) {
	seen := make(map[string]bool, len(defs))
	out := make([]Discriminator, 0, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("%s: discriminator with empty id", set)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("%s: duplicate discriminator %q", set, def.ID)
		}
		seen[def.ID] = true
		d, err := compileDiscriminator(def)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", set, def.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func compileDiscriminator(def DiscriminatorDef) (Discriminator, error) {
	if !def.Tier.Valid() {
		return Discriminator{}, fmt.Errorf("invalid tier %d", int(def.Tier))
	}
	d := Discriminator{
		ID:          def.ID,
		Description: def.Description,
		Tier:        def.Tier,
		Questions:   append([]string(nil), def.Questions...),
	}

	names := make([]string, 0, len(def.Criteria))
	for name := range def.Criteria {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		expr, err := ParseExpr(def.Criteria[name])
		if err != nil {
			return Discriminator{}, fmt.Errorf("criteria %s: %w", name, err)
		}
		d.Criteria = append(d.Criteria, Criterion{Measurement: name, Expr: expr, Source: def.Criteria[name]})
	}

	for _, o := range def.AgeOverrides {
		if err := o.Bracket.validate(); err != nil {
			return Discriminator{}, err
		}
		if !o.Tier.Valid() {
			return Discriminator{}, fmt.Errorf("age override %s: invalid tier %d", o.Bracket, int(o.Tier))
		}
		d.AgeOverrides = append(d.AgeOverrides, o)
	}

	for _, ac := range def.AgeCriteria {
		if err := ac.Bracket.validate(); err != nil {
			return Discriminator{}, err
		}
		if _, ok := def.Criteria[ac.Measurement]; !ok {
			return Discriminator{}, fmt.Errorf("age criteria for unknown measurement %q", ac.Measurement)
		}
		expr, err := ParseExpr(ac.Expr)
		if err != nil {
			return Discriminator{}, fmt.Errorf("age criteria %s %s: %w", ac.Measurement, ac.Bracket, err)
		}
		d.ageCriteria = append(d.ageCriteria, ageCriterion{bracket: ac.Bracket, measurement: ac.Measurement, expr: expr})
	}
	return d, nil
}

// GeneralDiscriminators returns the cross-cutting rules in catalog order.
func (c *Catalog) GeneralDiscriminators() []Discriminator {
	return append([]Discriminator(nil), c.general...)
}

// Flowchart looks up a presentation by id.
func (c *Catalog) Flowchart(id string) (*Presentation, bool) {
	p, ok := c.flowcharts[id]
	return p, ok
}

// Presentations lists presentation ids in catalog order.
func (c *Catalog) Presentations() []string {
	return append([]string(nil), c.order...)
}

// GenericPresentation is the empty flowchart used when an unknown
// presentation is requested.
func (c *Catalog) GenericPresentation() *Presentation {
	return c.generic
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the built-in rule set, compiled once per process.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		c, err := NewCatalog(builtinGeneral(), builtinFlowcharts())
		if err != nil {
			panic(fmt.Sprintf("triage: built-in catalog is invalid: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}
