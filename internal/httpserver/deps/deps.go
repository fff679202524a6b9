package deps

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/idlereboot/internal/logger"
	"github.com/MrSnakeDoc/idlereboot/internal/scheduler"
	"github.com/MrSnakeDoc/idlereboot/internal/window"
)

// Watcher is the part of scheduler.Watcher the handlers use.
type Watcher interface {
	Status() scheduler.Status
	Trigger() bool
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time            // for testing, defaults to time.Now
	AllowedCIDRS []string                    // IPs allowed to access every endpoint but /healthz
	TrustProxy   bool                        // true if running behind a trusted reverse proxy
	ServerAddr   string                      // game server query address
	Schedule     *window.Schedule            // maintenance window definition
	Watcher      Watcher                     // in-process scheduler
	Ready        func(context.Context) error // ledger backend check, nil = always ready
	Metrics      http.Handler                // prometheus handler, nil = no /metrics
}

// Now returns the current time through TimeNow when set.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
