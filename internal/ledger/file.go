package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// FileLedger keeps the stamp as the modification time of a file.
type FileLedger struct {
	path string
}

// NewFileLedger creates a ledger backed by the file at path.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Path returns the stamp file location.
func (l *FileLedger) Path() string { return l.path }

// LastRestart returns the stamp file's modification time.
func (l *FileLedger) LastRestart(_ context.Context) (time.Time, bool, error) {
	fi, err := os.Stat(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	if fi.IsDir() {
		return time.Time{}, false, fmt.Errorf("%w: %s is a directory", ErrUnreadable, l.path)
	}
	return fi.ModTime(), true, nil
}

// RecordRestart touches the stamp file and sets its modification time to t.
// The instant is also written as content for operators inspecting the file.
func (l *FileLedger) RecordRestart(_ context.Context, t time.Time) error {
	content := []byte(t.Format(time.RFC3339Nano) + "\n")
	if err := os.WriteFile(l.path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write restart stamp: %w", err)
	}
	if err := os.Chtimes(l.path, t, t); err != nil {
		return fmt.Errorf("failed to set restart stamp time: %w", err)
	}
	return nil
}
