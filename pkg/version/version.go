// Package version holds build information injected with ldflags, e.g.
// go build -ldflags "-X aicoder/pkg/version.Version=v0.3.0".
package version

import "fmt"

//nolint:gochecknoglobals // set via ldflags
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build information for --version.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
