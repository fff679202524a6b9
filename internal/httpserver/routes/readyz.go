package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/handlers"
)

func init() { Register(Route{Name: "readyz", Access: Operator, Register: registerReadyz}) }

func registerReadyz(r chi.Router, d deps.Deps) {
	r.Get("/readyz", handlers.Readyz(d))
}
