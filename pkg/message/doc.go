// Package message defines the domain messages exchanged between peers.
//
// A Message carries a Kind and exactly one kind-specific body. Kinds map
// one-to-one to the kind byte of the frame header:
//
//	Text           0x01
//	File           0x02
//	System         0x03
//	Heartbeat      0x04
//	KeyExchange    0x05
//	Disconnect     0x06
//	Acknowledgment 0x09
//
// Heartbeat and KeyExchange are transport-level kinds; the endpoints consume
// them and do not forward them to the application.
package message
