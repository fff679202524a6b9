package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/idlereboot/internal/logger"
)

// Run queues an immediate maintenance run. The run still honours the window
// and the already-restarted guard.
func Run(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Watcher != nil && d.Watcher.Trigger() {
			d.Logger.Info("manual run triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusAccepted)
			if _, err := w.Write([]byte("run triggered\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
			return
		}

		d.Logger.Warn("run already queued",
			logger.String("remote_ip", r.RemoteAddr))
		w.WriteHeader(http.StatusTooManyRequests)
		if _, err := w.Write([]byte("run already queued, please wait\n")); err != nil {
			d.Logger.Debug("failed to write response", logger.Error(err))
		}
	}
}
