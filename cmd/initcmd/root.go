package initcmd

import (
	"fmt"

	cmdUtil "github.com/ValentinKolb/kvsd/cmd/util"
	"github.com/ValentinKolb/kvsd/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// InitCmd creates the directory layout without starting the server
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the kvsd directory layout",
	Long:  `Create <root-dir>/namespaces/system and the default table <root-dir>/namespaces/default/default. Existing directories and data are left untouched. New tables are added by creating a directory <root-dir>/namespaces/<namespace>/<table>.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cmdUtil.BindCommandFlags(cmd); err != nil {
			return err
		}
		root := viper.GetString("root-dir")
		if err := server.InitDirs(root); err != nil {
			return err
		}
		fmt.Printf("initialized %s\n", root)
		return nil
	},
}

func init() {
	cmdUtil.SetupRootDirFlag(InitCmd)
}
