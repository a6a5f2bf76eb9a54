// Package session owns the socket-level transport settings shared by the
// inbound gateway and the outbound dispatcher.
//
// Ownership boundary:
// - connect/read/write/ack timeouts
// - TLS listener and dialer configuration
// - retry schedule and backoff primitives
package session
