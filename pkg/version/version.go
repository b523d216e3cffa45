// Package version exposes the build version of the firecode CLI.
package version

// version is set at build time via -ldflags "-X github.com/seymurkafkas/firecode/pkg/version.version=v1.2.3".
var version = "dev"

// GetVersion returns the CLI build version.
func GetVersion() string {
	return version
}
