// Package ledger persists the instant of the last restart so a maintenance
// window never triggers two restarts.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrUnreadable is returned when the stamp exists but cannot be read. Callers
// must not treat it as "never restarted".
var ErrUnreadable = errors.New("ledger: restart stamp unreadable")

// Ledger stores a single "last restart" instant.
type Ledger interface {
	// LastRestart returns the recorded instant. ok is false when nothing was
	// ever recorded; that is not an error.
	LastRestart(ctx context.Context) (t time.Time, ok bool, err error)

	// RecordRestart overwrites the stamp with t.
	RecordRestart(ctx context.Context, t time.Time) error
}
