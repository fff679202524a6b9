package maintenance

import (
	"fmt"
	"time"

	"github.com/MrSnakeDoc/idlereboot/internal/a2s"
	"github.com/MrSnakeDoc/idlereboot/internal/window"
)

// Decision is the outcome of one maintenance run.
type Decision int

const (
	// DecisionWaitForWindow: outside any window, sleep until it opens.
	DecisionWaitForWindow Decision = iota
	// DecisionAlreadyDone: the ledger shows a restart in the current window.
	DecisionAlreadyDone
	// DecisionServerBusy: players were seen, come back after the backoff.
	DecisionServerBusy
	// DecisionDeferred: not enough window left to confirm idleness.
	DecisionDeferred
	// DecisionRestarted: idle confirmed, stamp recorded, restart invoked.
	DecisionRestarted
)

func (d Decision) String() string {
	switch d {
	case DecisionWaitForWindow:
		return "wait_for_window"
	case DecisionAlreadyDone:
		return "already_done"
	case DecisionServerBusy:
		return "server_busy"
	case DecisionDeferred:
		return "deferred"
	case DecisionRestarted:
		return "restarted"
	default:
		return "unknown"
	}
}

// MarshalText renders the decision name in JSON.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decision) UnmarshalText(b []byte) error {
	for c := DecisionWaitForWindow; c <= DecisionRestarted; c++ {
		if c.String() == string(b) {
			*d = c
			return nil
		}
	}
	return fmt.Errorf("maintenance: unknown decision %q", b)
}

// Report summarizes a run. Until is the instant the decision is waiting
// for; Sleep is the delay before the next invocation, capped by the max
// sleep setting, so WakeAt may come before Until.
type Report struct {
	RunID       string        `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Decision    Decision      `json:"decision"`
	Until       time.Time     `json:"until"`
	Sleep       time.Duration `json:"sleep"`
	WakeAt      time.Time     `json:"wake_at"`
	Window      window.Window `json:"window"`
	LastRestart *time.Time    `json:"last_restart,omitempty"`
	Server      *a2s.Info     `json:"server,omitempty"`
	Polls       int           `json:"polls"`
	RestartErr  string        `json:"restart_error,omitempty"`
}
