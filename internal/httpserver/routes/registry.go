package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/lbreg/internal/httpserver/deps"
)

// Registrar mounts routes; middlewares that need deps are applied inside it.
type Registrar func(r chi.Router, d deps.Deps)

var registry []Registrar

// Register adds a registrar; called from init() in each route file.
func Register(reg Registrar) {
	registry = append(registry, reg)
}

// RegisterAll mounts every registered route; called once from NewRouter.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, reg := range registry {
		reg(r, d)
	}
}
