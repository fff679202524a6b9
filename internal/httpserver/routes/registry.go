package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/mw"
)

// Access says who may reach a route.
type Access int

const (
	// Public routes are open to any client (liveness probes).
	Public Access = iota
	// Operator routes are limited to the configured CIDR allowlist.
	Operator
)

// Route is one endpoint group contributed by a file of this package.
type Route struct {
	Name     string
	Access   Access
	Register func(r chi.Router, d deps.Deps)
}

var registry []Route

// Register adds a route; called from init.
func Register(rt Route) {
	registry = append(registry, rt)
}

// RegisterAll mounts every registered route, operator routes behind the
// allowlist, and returns their names in mount order.
func RegisterAll(r chi.Router, d deps.Deps) []string {
	operator := r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))

	names := make([]string, 0, len(registry))
	for _, rt := range registry {
		switch rt.Access {
		case Operator:
			rt.Register(operator, d)
		default:
			rt.Register(r, d)
		}
		names = append(names, rt.Name)
	}
	return names
}
