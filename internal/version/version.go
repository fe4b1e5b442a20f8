// Package version carries build metadata stamped in with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String is reported by `promptops version`, the health endpoint and the
// OpenTelemetry service.version resource attribute.
func String() string {
	return fmt.Sprintf("%s (%s, %s, %s)", Version, Commit, Date, runtime.Version())
}
