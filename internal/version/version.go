// Package version provides build-time version information.
package version

import "fmt"

var (
	// Version is the semantic version, set via ldflags.
	Version = "dev"
	// Commit is the short git commit hash, set via ldflags.
	Commit = "unknown"
	// GitTime is the commit timestamp in ISO 8601 UTC format, set via ldflags.
	GitTime = "unknown"
)

// UserAgent returns the User-Agent sent with asset downloads.
func UserAgent() string {
	return fmt.Sprintf("mediasync/%s (+commit %s)", Version, Commit)
}
