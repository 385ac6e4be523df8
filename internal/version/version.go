// Package version holds the gateway's build version, overridable at
// link time with -ldflags "-X .../version.Value=...".
package version

// Value is the gateway's version string, "dev" for unreleased builds.
var Value = "dev"
