// Package rpc contains the network side of kvsd: the wire protocol, the daemon
// that serves it and a client that speaks it.
//
// The package is organized into several subpackages:
//
//   - protocol: Length-prefixed frames and the messages built from them
//     (Ping, Authenticate, Success, Fail, Set, Get, Delete).
//
//   - common: Configuration structures, logging setup and metrics shared by the
//     server and the client.
//
//   - server: The TCP server, per-connection handlers and the Initializer that
//     wires storage, listener and metrics together.
//
//   - client: A connection-reusing client and a small pool implementing the
//     store interface over the network.
package rpc
