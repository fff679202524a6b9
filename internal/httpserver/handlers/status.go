package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/idlereboot/internal/scheduler"
	"github.com/MrSnakeDoc/idlereboot/internal/window"
)

type windowStatus struct {
	Current  *window.Window `json:"current,omitempty"`
	Next     *window.Window `json:"next,omitempty"`
	Timezone string         `json:"timezone"`
}

type statusResponse struct {
	Server string           `json:"server"`
	Now    string           `json:"now"`
	Window windowStatus     `json:"window"`
	Watch  scheduler.Status `json:"watch"`
}

// Status reports the maintenance window relative to now and the outcome of
// the last run.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := d.Now()
		resp := statusResponse{
			Server: d.ServerAddr,
			Now:    now.In(d.Schedule.Location()).Format("2006-01-02 15:04:05 MST"),
			Window: windowStatus{Timezone: d.Schedule.Location().String()},
		}

		if cur, ok := d.Schedule.CurrentOrNext(now); ok {
			if cur.Includes(now) {
				resp.Window.Current = &cur
				if next, ok := d.Schedule.StrictlyNext(now); ok {
					resp.Window.Next = &next
				}
			} else {
				resp.Window.Next = &cur
			}
		}
		if d.Watcher != nil {
			resp.Watch = d.Watcher.Status()
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
