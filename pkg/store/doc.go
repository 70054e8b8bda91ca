// Package store keeps sent and received messages.
//
// The session layer depends only on the Store interface. MemoryStore is the
// default; FileStore persists the same data to a JSON file after every
// mutation so history survives restarts.
package store
