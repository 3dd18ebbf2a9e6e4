// Package version carries build information injected at release time.
package version

// Set via ldflags, e.g.
// go build -ldflags "-X aide/pkg/version.Version=v1.2.3".
//
//nolint:gochecknoglobals // ldflags injection requires package-level vars.
var (
	// Version is the semantic version ("dev" for development builds).
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)
