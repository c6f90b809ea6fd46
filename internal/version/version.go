// Package version carries the build identity stamped into release
// binaries with -ldflags; development builds report the defaults.
package version

var (
	// Version is the release version of the aligntest binary.
	Version = "0.1.0"

	// BuildTime is when the binary was built, in UTC.
	BuildTime = "unknown"

	// GitCommit identifies the source revision.
	GitCommit = "unknown"
)
