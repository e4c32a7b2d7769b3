// Package version holds build metadata injected with -ldflags.
package version

// Version is overridden at build time with
// -ldflags "-X github.com/bnema/deployctl/internal/version.Version=v1.2.3".
var Version = "dev"
