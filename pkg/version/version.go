// Package version carries the build metadata stamped at link time.
package version

import "fmt"

var (
	// Version is the semantic version, overridden via -ldflags.
	Version = "dev"
	// Commit is the git revision of the build.
	Commit = "unknown"
	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the full version line.
func String() string {
	return fmt.Sprintf("flowmatic %s (commit %s, built %s)", Version, Commit, Date)
}
