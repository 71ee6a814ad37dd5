// Package server implements the kvsd daemon: the TCP server, the per connection
// handler and the Initializer that wires them to the storage core.
//
// The package focuses on:
//   - Accepting connections up to a configurable limit, clients over the limit get a
//     Fail (too_many_connections) and are disconnected
//   - Serving the messages of a connection strictly in order
//   - Graceful shutdown: stop accepting, finish in-flight requests, then stop storage
//
// Key Components:
//
//   - Server: accept loop with a counting semaphore for the connection limit and an
//     xsync.MapOf registry of open connections used for draining at shutdown.
//
//   - connection: reads one message at a time, checks that the client authenticated
//     before Set/Get/Delete, forwards storage requests to the store.IStore (the
//     storage core) and writes the reply. Messages that cannot be decoded are
//     answered with a Fail before the connection is closed.
//
//   - Initializer: creates the directory layout, opens the storage core, binds the
//     listener (unless one is provided) and runs everything until the context ends.
//
// Usage Example:
//
//	config := common.DefaultServerConfig()
//	config.RootDir = "/var/lib/kvsd"
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	if err := server.NewInitializer(config).Run(ctx); err != nil {
//	  panic(err)
//	}
package server
