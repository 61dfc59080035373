// Package network brings up the controller's network identity before the
// broker is dialled: DHCP first, then the configured static address.
//
// The host's own DHCP client does the actual negotiation; this package
// only waits for an address to appear on the chosen interface.
package network
