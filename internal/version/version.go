package version

var version = "0.1.0-dev"

// Version returns the build version. Overridden at release time via
// -ldflags "-X github.com/tickerd/tickerd/internal/version.version=...".
func Version() string {
	return version
}
