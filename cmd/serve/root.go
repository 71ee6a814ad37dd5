package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	cmdUtil "github.com/ValentinKolb/kvsd/cmd/util"
	"github.com/ValentinKolb/kvsd/rpc/common"
	"github.com/ValentinKolb/kvsd/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the kvsd server",
		Long:    `Start the kvsd server with the specified configuration. The configuration can be set via command line flags, environment variables or a YAML config file (--config). The format of the environment variables is KVSD_<flag> (e.g. KVSD_MAX_CONNECTIONS=64)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	defaults := common.DefaultServerConfig()

	// add flags
	cmdUtil.SetupRootDirFlag(ServeCmd)
	cmdUtil.SetupLogFlag(ServeCmd)

	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, defaults.Endpoint, cmdUtil.WrapString("The TCP address on which the server will listen (e.g. 0.0.0.0:7379)"))

	key = "max-connections"
	ServeCmd.PersistentFlags().Int(key, defaults.MaxConnections, cmdUtil.WrapString("Maximum number of concurrent client connections. Clients beyond the limit are rejected (0 = unlimited)"))

	key = "request-queue-size"
	ServeCmd.PersistentFlags().Int(key, defaults.RequestQueueSize, cmdUtil.WrapString("Capacity of the queue between the connections and the storage core"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, defaults.TimeoutSecond, cmdUtil.WrapString("Read/write timeout of client connections in seconds (0 = no timeout)"))

	key = "shutdown-grace"
	ServeCmd.PersistentFlags().Int64(key, defaults.ShutdownGraceSecond, cmdUtil.WrapString("Seconds in-flight requests may take to finish on shutdown before connections are closed"))

	key = "sync-writes"
	ServeCmd.PersistentFlags().Bool(key, defaults.SyncWrites, cmdUtil.WrapString("Flush every write to stable storage before it is acknowledged"))

	key = "compression"
	ServeCmd.PersistentFlags().Bool(key, defaults.Compression, cmdUtil.WrapString("Compress large values with snappy"))

	key = "max-value-size"
	ServeCmd.PersistentFlags().String(key, "0", cmdUtil.WrapString("Largest value accepted from clients, e.g. 512K or 16M (0 = no limit)"))

	key = "users"
	ServeCmd.PersistentFlags().StringSlice(key, nil, cmdUtil.WrapString("Users allowed to connect as username:password pairs. The password may be a bcrypt hash created with 'kvsd passwd'. Without users authentication is disabled"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the prometheus metrics endpoint (e.g. localhost:9100, empty = disabled)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, defaults.TCPConf.TCPNoDelay, cmdUtil.WrapString("Whether to enable TCP_NODELAY on client connections"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, defaults.TCPConf.TCPKeepAliveSec, cmdUtil.WrapString("The keepalive interval of client connections (in seconds, 0 = system default)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	maxValueSize, err := common.ParseSize(viper.GetString("max-value-size"))
	if err != nil {
		return err
	}

	users, err := cmdUtil.ParseUsers(viper.Get("users"))
	if err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.RootDir = viper.GetString("root-dir")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MaxConnections = viper.GetInt("max-connections")
	serveCmdConfig.RequestQueueSize = viper.GetInt("request-queue-size")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.ShutdownGraceSecond = viper.GetInt64("shutdown-grace")
	serveCmdConfig.SyncWrites = viper.GetBool("sync-writes")
	serveCmdConfig.Compression = viper.GetBool("compression")
	serveCmdConfig.MaxValueSize = maxValueSize
	serveCmdConfig.Users = users
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.TCPConf = common.TCPConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
	}

	if serveCmdConfig.RootDir == "" {
		return fmt.Errorf("root-dir must not be empty")
	}
	if serveCmdConfig.MaxConnections < 0 {
		return fmt.Errorf("max-connections must not be negative")
	}

	return cmdUtil.InitLogging()
}

// run starts the kvsd server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.NewInitializer(serveCmdConfig).Run(ctx)
}
