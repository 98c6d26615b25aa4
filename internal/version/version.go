// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/xtrntr/marketplace/internal/version.Version=1.0.0 \
//	                   -X github.com/xtrntr/marketplace/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/xtrntr/marketplace/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
