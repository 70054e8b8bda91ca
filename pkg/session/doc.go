// Package session arbitrates the single active messenger session.
//
// A Manager owns at most one endpoint at a time: either a listening server
// with its peer table or one client connection. Outbound messages pass
// through a bounded queue drained by the endpoint's writer goroutine;
// inbound application messages are delivered on Messages() in arrival order
// per socket.
//
// Stop and Disconnect release the active slot and close sockets. Background
// loops end on their next I/O error.
package session
