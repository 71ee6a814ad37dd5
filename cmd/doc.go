// Package cmd implements the command-line interface of kvsd. It provides a
// hierarchical command structure with operations for running the daemon,
// maintaining its data directory and talking to it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts and configures the daemon
//   - initcmd: Creates the directory layout
//   - compact: Compacts table logs while the daemon is stopped
//   - passwd: Hashes passwords for the users configuration
//   - kv: Client commands (ping, get, set, del, bench)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See kvsd -help for a list of all commands.
package cmd
