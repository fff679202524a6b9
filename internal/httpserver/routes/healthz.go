package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/handlers"
)

func init() { Register(Route{Name: "healthz", Access: Public, Register: registerHealthz}) }

func registerHealthz(r chi.Router, d deps.Deps) {
	r.Get("/healthz", handlers.Healthz(d))
}
