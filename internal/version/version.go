// Package version holds build identification, overridden at link time
// with -ldflags "-X inferd/internal/version.Version=...".
package version

var (
	// Version is the semantic version or git describe output.
	Version = "dev"

	// Commit is the short git commit hash.
	Commit = "unknown"
)
