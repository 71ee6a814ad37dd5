// Package common provides the configuration, logging and metrics shared by the
// kvsd server, client and commands.
//
// Key Components:
//
//   - ServerConfig: configuration of the daemon (storage root, endpoint, limits,
//     users, timeouts). CoreOptions converts it for the storage core and String
//     renders the dump printed at startup.
//
//   - ClientConfig: configuration of the client (endpoint, timeout, credentials).
//
//   - Logger: custom implementation of the dragonboat logger facade. Every package
//     declares `var Logger = logger.GetLogger("<name>")`. InitLoggers installs the
//     factory and applies a level setting with optional per component overrides
//     (e.g. "warn,server=debug"). Logs go to stderr unless SetLogOutput says otherwise.
//
//   - Metrics: the VictoriaMetrics set the server records connection and request
//     metrics in, exposed in prometheus text format by ServeMetrics.
package common
