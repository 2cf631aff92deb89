package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"genstudio/internal/catalog"
)

type modelResponse struct {
	*catalog.Model
	DefaultRatio    string  `json:"defaultRatio,omitempty"`
	DefaultDuration int     `json:"defaultDuration,omitempty"`
	Credits         int     `json:"credits"`
	USD             float64 `json:"usd"`
}

func toModelResponse(m *catalog.Model) modelResponse {
	credits := m.Cost("", 0)
	return modelResponse{
		Model:           m,
		DefaultRatio:    m.DefaultRatio(),
		DefaultDuration: m.DefaultDuration(),
		Credits:         credits,
		USD:             catalog.USD(credits),
	}
}

// Models lists the catalog with the cost of a default generation.
func (a *App) Models(w http.ResponseWriter, r *http.Request) {
	models := a.Catalog.List()
	items := make([]modelResponse, 0, len(models))
	for _, m := range models {
		items = append(items, toModelResponse(m))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// ModelCost prices one generation: GET /v1/models/{id}/cost?ratio=&duration=.
func (a *App) ModelCost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ratio := r.URL.Query().Get("ratio")
	duration := 0
	if raw := r.URL.Query().Get("duration"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "duration must be an integer")
			return
		}
		duration = v
	}
	credits, err := a.Catalog.EstimateCost(id, ratio, duration)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"model": id, "credits": credits, "usd": catalog.USD(credits)})
}
