// Package wire implements the TinyMQ framing layer: a fixed 4-byte
// header (type, flags, big-endian payload length) followed by up to
// 65535 payload bytes.
//
// The codec is deliberately dumb. It knows the closed set of packet
// type values and how to slice frames out of a byte stream; payload
// interpretation (JSON envelopes, binary admin responses) belongs to
// the client layer. Decode consumes unknown-but-well-formed frames so
// that a newer broker cannot wedge an older client.
package wire
