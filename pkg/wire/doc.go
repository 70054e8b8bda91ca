// Package wire implements the tcpmsg frame format.
//
// Every frame is an 8-byte header followed by Length payload bytes:
//
//	+---------+------+-------+----------+----------------+
//	| version | kind | flags | reserved | length (u32 BE)|
//	+---------+------+-------+----------+----------------+
//	    1B       1B     1B       1B=0          4B
//
// The payload is a CBOR-encoded message.Message (integer keys), or a secure
// container wrapping that encoding when FlagEncrypted is set.
package wire
