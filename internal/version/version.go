// Package version holds build information set through -ldflags.
package version

import "runtime"

var (
	Version   = "dev"             // ex: v0.1.0
	Commit    = "none"            // ex: abcd123
	BuildDate = "unknown"         // ex: 2026-08-11T18:42:00Z
	GoVersion = runtime.Version() // go version
)

// String renders the build information on one line.
func String() string {
	return Version + " (commit " + Commit + ", built " + BuildDate + ", " + GoVersion + ")"
}
