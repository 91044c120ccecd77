package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/lbreg/internal/httpserver/deps"
	"github.com/MrSnakeDoc/lbreg/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/lbreg/internal/httpserver/mw"
)

func init() { Register(registerRegistrations) }

func registerRegistrations(r chi.Router, d deps.Deps) {
	r.Group(func(r chi.Router) {
		r.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
		r.Get("/registrations", handlers.Registrations(d))
		r.Get("/infra", handlers.Infra(d))
	})
}
