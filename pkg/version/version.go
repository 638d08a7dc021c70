// Package version provides build version information for corpusqa.
package version

// Version is the current corpusqa version.
// Overridden at build time via -ldflags "-X github.com/corpusqa/corpusqa/pkg/version.Version=..."
var Version = "0.3.0-dev"

// Commit is the git commit hash, set at build time.
var Commit = "unknown"

// String returns the full version string.
func String() string {
	return Version + " (" + Commit + ")"
}
