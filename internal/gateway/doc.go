// Package gateway accepts inbound counterpart connections, splits their byte
// streams into frames and answers every frame with exactly one ACK or NACK.
//
// Each connection is served by one goroutine that owns its frame buffer, so
// frames from the same peer are validated and answered strictly in order
// while separate peers proceed independently. Every reply is appended to the
// transmission log before it is written to the socket.
package gateway
