package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"server/internal/billing"
	"server/internal/infra"
	"server/internal/middleware"
	"server/internal/providers/kie"
	"server/internal/providers/prompt"
	"server/internal/reconcile"
	"server/internal/storage"
)

// Submitter is the slice of the provider client the submission flow needs.
type Submitter interface {
	Submit(ctx context.Context, req kie.SubmitRequest) (*kie.SubmitResult, error)
}

// PollStarter arms the fallback polling loop for a provider task id.
type PollStarter interface {
	Start(taskID string)
}

// App carries the dependencies shared by all HTTP handlers.
type App struct {
	Store     storage.Store
	Provider  Submitter
	Finalizer *reconcile.Finalizer
	Poller    PollStarter
	Billing   *billing.Processor
	Refiner   prompt.Refiner
	Logger    infra.Logger
	Cfg       *infra.Config
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) locale(r *http.Request) string {
	if v, ok := r.Context().Value(middleware.LocaleKey).(string); ok && v != "" {
		return v
	}
	return a.Cfg.DefaultLocale
}
