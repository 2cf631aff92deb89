package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"genstudio/internal/http/handlers"
	"genstudio/internal/infra"
	"genstudio/internal/middleware"
)

// Options carries the router's non-handler collaborators.
type Options struct {
	Logger         infra.Logger
	DefaultLocale  string
	AllowedOrigins []string
	// Events serves the websocket job stream; nil disables /v1/events.
	Events http.Handler
	// StaticDir is served under /static when set.
	StaticDir string
	// SubmitLimit caps generation submissions per client per minute; 0 disables it.
	SubmitLimit int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.AllowedOrigins),
		middleware.Locale(opts.DefaultLocale),
	)

	submitLimit := func(next http.Handler) http.Handler { return next }
	if opts.SubmitLimit > 0 {
		submitLimit = middleware.RateLimit(opts.SubmitLimit, time.Minute)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.Get("/models", app.Models)
		r.Get("/models/{id}/cost", app.ModelCost)
		r.Get("/balance", app.BalanceShow)
		r.Post("/jobs/{id}/cancel", app.JobCancel)
		if opts.Events != nil {
			r.Handle("/events", opts.Events)
		}
	})

	r.Route("/local/chats", func(r chi.Router) {
		r.Get("/", app.ChatsList)
		r.Post("/", app.ChatsCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.ChatsShow)
			r.Patch("/", app.ChatsRename)
			r.Delete("/", app.ChatsDelete)
			r.Post("/activate", app.ChatsActivate)
			r.Get("/draft", app.DraftShow)
			r.Patch("/draft", app.DraftUpdate)
			r.Put("/attachments/{slot}/{index}", app.AttachmentSet)
			r.Get("/messages", app.MessagesList)
			r.Post("/messages", app.MessagesCreate)
			r.With(submitLimit).Post("/generate", app.Generate)
			r.With(submitLimit).Post("/pipeline", app.PipelineStart)
		})
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
