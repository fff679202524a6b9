package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/deps"
)

func init() { Register(Route{Name: "metrics", Access: Operator, Register: registerMetrics}) }

func registerMetrics(r chi.Router, d deps.Deps) {
	if d.Metrics == nil {
		return
	}
	r.Handle("/metrics", d.Metrics)
}
