// Package credentials tracks the rotation schedule of the message encryption
// key and the status of the TLS credentials supplied to the gateway. It holds
// no key material and implies no security guarantee; it records dates and
// presence flags and raises ROTATION_DUE entries when a deadline passes.
package credentials
