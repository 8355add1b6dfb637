// Package comm provides L0 protocol support.
package comm

// L0 protocol is communicated between the grinder firmware drivers and the
// host controller over a single peer-to-peer channel (e.g. serial port).
//
// Every frame addresses one driver and carries a correlation counter chosen
// by the sender of a command, a repeat counter which is 0 on the first
// transmission and increases on every resend, and a tagged payload:
//
//	DriverID(1) | Counter(4, big-endian) | Repeat(1) | Tag(1) | Payload(<=120)
//
// On a byte stream, frames are delimited as SOF(0xA5) | LEN(1) | frame so the
// receiver can resynchronize after line noise or a truncated frame.
// Like the original L0 protocol there is no checksum, enable parity on the
// serial port if bit verification is needed.
//
// Payload bodies are protobuf encoded. The set of payload tags is closed and
// a frame carrying an unknown tag is rejected as malformed.
