package kv

import (
	"fmt"

	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Measures the round trip time to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rtt, err := rpcStore.Ping(commandContext(cmd))
			if err != nil {
				return err
			}
			fmt.Printf("pong from %s in %s\n", viper.GetString("endpoint"), rtt)
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := value.FromString(args[1])
			if err != nil {
				return err
			}
			if err := rpcStore.Set(commandContext(cmd), tableRef, args[0], v); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			v, err := rpcStore.Get(commandContext(cmd), tableRef, key)
			switch {
			case store.CodeOf(err) == store.RetCKeyNotFound:
				fmt.Printf("key=%s, found=false\n", key)
				return nil
			case err != nil:
				return err
			}
			fmt.Printf("key=%s, found=true, value=%s\n", key, v.String())
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			old, err := rpcStore.Delete(commandContext(cmd), tableRef, key)
			if err != nil {
				return err
			}
			if old == nil {
				fmt.Printf("key=%s, deleted=false\n", key)
			} else {
				fmt.Printf("key=%s, deleted=true, old=%s\n", key, old.String())
			}
			return nil
		},
	}
)
