package version

// Version is the current version of confera.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/confera/confera/internal/version.Version=v1.0.0'"
var Version = "dev"
