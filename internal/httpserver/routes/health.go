package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/lbreg/internal/httpserver/deps"
	"github.com/MrSnakeDoc/lbreg/internal/httpserver/handlers"
)

func init() { Register(registerHealth) }

// Probes stay unrestricted: the load balancer and the orchestrator call them.
func registerHealth(r chi.Router, d deps.Deps) {
	r.Get("/healthz", handlers.Healthz(d))
	r.Get("/readyz", handlers.Readyz(d))
}
