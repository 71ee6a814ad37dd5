package kv

import (
	"context"

	"github.com/ValentinKolb/kvsd/cmd/util"
	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcStore *client.Client
	tableRef store.TableRef

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value store operations",
		PersistentPreRunE:  setupKVClient,
		PersistentPostRunE: closeKVClient,
	}
)

func init() {
	// Add common RPC flags to the KV command
	util.SetupRPCClientFlags(KeyValueCommands)
	util.SetupLogFlag(KeyValueCommands)

	KeyValueCommands.PersistentFlags().String("namespace", store.DefaultNamespace, util.WrapString("Namespace of the table to operate on"))
	KeyValueCommands.PersistentFlags().String("table", store.DefaultTable, util.WrapString("Table to operate on"))

	// Add subcommands
	KeyValueCommands.AddCommand(pingCmd)
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(benchCmd)
}

// setupKVClient connects the client used by the subcommands
func setupKVClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	tableRef = store.TableRef{
		Namespace: viper.GetString("namespace"),
		Table:     viper.GetString("table"),
	}

	// the bench command manages its own pool
	if cmd == benchCmd {
		return nil
	}

	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}
	rpcStore, err = client.Dial(commandContext(cmd), *config)
	return err
}

func closeKVClient(_ *cobra.Command, _ []string) error {
	if rpcStore == nil {
		return nil
	}
	return rpcStore.Close()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
