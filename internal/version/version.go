// ABOUTME: Product and version constants
// ABOUTME: Reported in client/hello device info and the CLI banner
package version

// Version is overridden at build time with -ldflags "-X .../version.Version=..."
var Version = "0.3.0"

const (
	Product      = "Sendspin Sync Player"
	Manufacturer = "Sendspin"
)
