// Package version provides build and version information for napt-router.
package version

// Version is the current release version of napt-router.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/AaronLay10/napt-router/internal/version.Version=x.y.z"
var Version = "0.3.0"
