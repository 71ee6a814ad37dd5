package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/kvsd/cmd/compact"
	"github.com/ValentinKolb/kvsd/cmd/initcmd"
	"github.com/ValentinKolb/kvsd/cmd/kv"
	"github.com/ValentinKolb/kvsd/cmd/passwd"
	"github.com/ValentinKolb/kvsd/cmd/serve"
	"github.com/ValentinKolb/kvsd/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "kvsd",
		Short: "networked key-value daemon",
		Long: fmt.Sprintf(`kvsd (v%s)

A small key-value daemon written in Go. Every table is an append-only
log on disk with an in-memory index, served over a framed TCP protocol.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kvsd",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kvsd v%s\n", Version)
		},
	}
)

func init() {
	// load .env files, environment variables and the config file before any command runs
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(initcmd.InitCmd)
	RootCmd.AddCommand(compact.CompactCmd)
	RootCmd.AddCommand(passwd.PasswdCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	RootCmd.PersistentFlags().StringVar(&util.ConfigFile, "config", "", util.WrapString("Path of a YAML config file. Flags and environment variables take precedence"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
