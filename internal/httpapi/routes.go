package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hopdot/hopdot-server/internal/hub"
	"github.com/hopdot/hopdot-server/internal/registry"
	"github.com/hopdot/hopdot-server/internal/ws"
)

// Defaults are applied to session creation requests that omit fields.
type Defaults struct {
	Players     int
	Width       uint8
	Height      uint8
	IdleTimeout time.Duration
}

func SetupRoutes(h *hub.Hub, reg *registry.Registry, log *zap.Logger, defaults Defaults) http.Handler {
	r := chi.NewRouter()

	r.Post("/sessions", CreateSession(h, log, defaults))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, reg, log))
	return r
}
