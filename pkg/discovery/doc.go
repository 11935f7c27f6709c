// ABOUTME: mDNS service discovery package
// ABOUTME: Finds Sendspin servers on the local network
// Package discovery browses mDNS for Sendspin servers.
//
// Example:
//
//	server, err := discovery.Discover(ctx, discovery.Config{})
//	if err == nil {
//	    fmt.Println("Found:", server.Name, "at", server.Addr())
//	}
package discovery
