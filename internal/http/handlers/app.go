package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"genstudio/internal/billing"
	"genstudio/internal/catalog"
	"genstudio/internal/chat"
	"genstudio/internal/domain"
	"genstudio/internal/i18n"
	"genstudio/internal/infra"
	"genstudio/internal/middleware"
)

// BalanceReader exposes the cached provider balance.
type BalanceReader interface {
	Current() (*billing.Balance, error)
	Refresh(ctx context.Context) (billing.Balance, error)
}

// App carries the collaborators shared by every handler.
type App struct {
	Chat    *chat.Coordinator
	Catalog *catalog.Catalog
	Balance BalanceReader
	Logger  *infra.Logger
}

func NewApp(coord *chat.Coordinator, cat *catalog.Catalog, balance BalanceReader, logger *infra.Logger) *App {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &App{Chat: coord, Catalog: cat, Balance: balance, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Label   string `json:"label,omitempty"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// fail maps a domain error onto an HTTP status and a localized error body.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownModel):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrUnknownSlot),
		errors.Is(err, domain.ErrIndexOutOfRange),
		errors.Is(err, domain.ErrOutOfDomain):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrIncompatibleMode), errors.Is(err, domain.ErrUnsupportedEndpoint):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrMessageFinal):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrNetwork), errors.Is(err, domain.ErrSubmission):
		status = http.StatusBadGateway
	}
	code := domain.ErrorCode(err)
	if errors.Is(err, domain.ErrNotFound) {
		code = "not_found"
	}
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
	}
	a.json(w, status, map[string]errorBody{"error": {
		Code:    code,
		Message: err.Error(),
		Label:   i18n.ErrorLabel(middleware.LocaleFromContext(r.Context()), code),
	}})
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}
