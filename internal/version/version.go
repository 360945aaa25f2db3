// Package version carries build identification for block-ingestor binaries.
package version

// Set at build time via -ldflags.
var (
	// Release is the tagged release (e.g. "v0.3.1"), or "dev" for local builds.
	Release = "dev"
	// GitCommit is the short hash of the commit the binary was built from.
	GitCommit = "unknown"
)

// Full renders the release and commit as a single identifier.
func Full() string {
	return Release + "-" + GitCommit
}
