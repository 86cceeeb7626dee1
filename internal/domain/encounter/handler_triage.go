package encounter

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/triage/internal/domain/triage"
)

// Resolve is the stateless triage calculator: it returns the decision for the
// submitted input without recording anything.
func (h *Handler) Resolve(c echo.Context) error {
	var in triage.Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Resolve(in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type presentationSummary struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	AgeSpecific       bool   `json:"age_specific"`
	PregnancySpecific bool   `json:"pregnancy_specific"`
}

func (h *Handler) ListPresentations(c echo.Context) error {
	catalog := h.svc.engine.Catalog()
	out := make([]presentationSummary, 0)
	for _, id := range catalog.Presentations() {
		p, _ := catalog.Flowchart(id)
		out = append(out, presentationSummary{
			ID:                p.ID,
			Name:              p.Name,
			Description:       p.Description,
			AgeSpecific:       p.AgeSpecific,
			PregnancySpecific: p.PregnancySpecific,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"presentations":          out,
		"general_discriminators": catalog.GeneralDiscriminators(),
	})
}

func (h *Handler) GetPresentation(c echo.Context) error {
	p, ok := h.svc.engine.Catalog().Flowchart(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "presentation not found")
	}
	return c.JSON(http.StatusOK, p)
}
