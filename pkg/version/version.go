// Package version provides version information for qmap.
package version

import (
	_ "embed"
	"strings"
)

//go:embed version.txt
var versionFile string

// Version is the current version of qmap, embedded from version.txt.
var Version = strings.TrimSpace(versionFile)

// Full returns the version string prefixed with the program name.
func Full() string {
	return "qmap version " + Version
}
