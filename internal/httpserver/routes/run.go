package routes

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/mw"
)

func init() { Register(Route{Name: "run", Access: Operator, Register: registerRun}) }

func registerRun(r chi.Router, d deps.Deps) {
	limit := mw.RateLimit(mw.RateLimitConfig{
		Burst:             3,
		RefillPerIPPerMin: 6,
		MaxEntries:        256,
		IdleTTL:           15 * time.Minute,
		TrustProxy:        d.TrustProxy,
	})
	r.With(limit).Post("/run", handlers.Run(d))
}
