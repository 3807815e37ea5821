// Package version holds build metadata injected at link time.
package version

// Set via -ldflags at build time.
var (
	GitRelease = "dev"
	GitCommit  = ""
	BuildDate  = ""
)
