package runner

import "fmt"

// Build metadata, injected with -ldflags "-X github.com/sadewadee/mystic-shorts/runner.Version=..."
var (
	Version   = "dev"
	BuildDate = "unknown"
	Commit    = "none"
)

// VersionString renders the build metadata for banners and logs
func VersionString() string {
	return fmt.Sprintf("v%s (%s, %s)", Version, BuildDate, Commit)
}
