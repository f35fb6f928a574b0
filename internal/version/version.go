// Package version carries build metadata set with -ldflags.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Producer identifies this build in checkpoints and run records.
func Producer() string {
	return fmt.Sprintf("paramsweep %s (%s)", Version, GitSHA)
}
