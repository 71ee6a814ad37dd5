package common

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/ValentinKolb/kvsd/lib/core"
	"github.com/ValentinKolb/kvsd/lib/table"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// TCPConf holds socket options applied to accepted and dialed connections.
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
}

// ServerConfig holds all configuration parameters of the daemon.
type ServerConfig struct {
	// Storage
	RootDir          string
	RequestQueueSize int
	SyncWrites       bool
	Compression      bool
	MaxValueSize     uint64

	// RPC server settings
	Endpoint            string
	MaxConnections      int
	TimeoutSecond       int64
	ShutdownGraceSecond int64
	TCPConf             TCPConf

	// Users maps a username to its password or bcrypt hash. Empty disables
	// authentication.
	Users map[string]string

	// MetricsEndpoint is the address of the prometheus endpoint (empty = disabled)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns the configuration used when no flag is given.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RootDir:             "data",
		RequestQueueSize:    core.DefaultQueueSize,
		Endpoint:            "0.0.0.0:7379",
		MaxConnections:      1024,
		TimeoutSecond:       0,
		ShutdownGraceSecond: 10,
		TCPConf:             TCPConf{TCPNoDelay: true},
		LogLevel:            "info",
	}
}

// Timeout returns the per connection read/write deadline (0 = none).
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// ShutdownGrace returns how long in-flight connections may take to finish.
func (c *ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSecond) * time.Second
}

// CoreOptions converts the storage settings into options for the storage core.
func (c *ServerConfig) CoreOptions() core.Options {
	return core.Options{
		RootDir:      c.RootDir,
		QueueSize:    c.RequestQueueSize,
		MaxValueSize: c.MaxValueSize,
		Table: table.Options{
			SyncWrites:  c.SyncWrites,
			Compression: c.Compression,
		},
	}
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Max Connections", fmt.Sprintf("%d", c.MaxConnections))
	addField("Timeout", durationOrOff(c.TimeoutSecond))
	addField("Shutdown Grace", fmt.Sprintf("%d sec", c.ShutdownGraceSecond))
	addField("TCP No Delay", fmt.Sprintf("%t", c.TCPConf.TCPNoDelay))
	addField("TCP Keep Alive", durationOrOff(int64(c.TCPConf.TCPKeepAliveSec)))

	// Storage
	addSection("Storage")
	addField("Root Directory", c.RootDir)
	addField("Request Queue Size", fmt.Sprintf("%d", c.RequestQueueSize))
	addField("Sync Writes", fmt.Sprintf("%t", c.SyncWrites))
	addField("Compression", fmt.Sprintf("%t", c.Compression))
	if c.MaxValueSize > 0 {
		addField("Max Value Size", bytefmt.ByteSize(c.MaxValueSize))
	} else {
		addField("Max Value Size", "unlimited")
	}

	// Authentication, never print the secrets
	addSection("Authentication")
	if len(c.Users) == 0 {
		addField("Users", "none (authentication disabled)")
	} else {
		names := make([]string, 0, len(c.Users))
		for name := range c.Users {
			names = append(names, name)
		}
		sort.Strings(names)
		addField("Users", strings.Join(names, ", "))
	}

	// Logging and metrics
	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	} else {
		addField("Metrics Endpoint", "disabled")
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoint      string
	TimeoutSecond int
	Username      string
	Password      string
	// MaxMessageSize is the largest reply the client reads (0 = protocol default).
	// Must be raised together with the server's MaxValueSize.
	MaxMessageSize uint64
	TCPConf        TCPConf
}

// Timeout returns the dial and per request timeout (0 = none).
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", durationOrOff(int64(c.TimeoutSecond)))
	if c.Username != "" {
		addField("Username", c.Username)
	} else {
		addField("Username", "none")
	}
	if c.MaxMessageSize > 0 {
		addField("Max Message Size", bytefmt.ByteSize(c.MaxMessageSize))
	} else {
		addField("Max Message Size", "default")
	}
	addField("TCP No Delay", fmt.Sprintf("%t", c.TCPConf.TCPNoDelay))

	return sb.String()
}

// ParseSize parses a human readable size such as "16M" or "512KB".
func ParseSize(s string) (uint64, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %v", s, err)
	}
	return n, nil
}

func durationOrOff(sec int64) string {
	if sec <= 0 {
		return "off"
	}
	return fmt.Sprintf("%d sec", sec)
}
