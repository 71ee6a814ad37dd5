package passwd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/kvsd/lib/core"
	"github.com/spf13/cobra"
)

// PasswdCmd prints the bcrypt hash of a password for the users configuration
var PasswdCmd = &cobra.Command{
	Use:   "passwd [password]",
	Short: "Hash a password for the users configuration",
	Long:  `Print the bcrypt hash of a password. Without an argument the password is read from the first line of stdin. Use the hash as password in the users configuration of 'kvsd serve'.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cost, err := cmd.Flags().GetInt("cost")
		if err != nil {
			return err
		}

		var password string
		if len(args) == 1 {
			password = args[0]
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password from stdin: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}

		hash, err := core.HashPassword(password, cost)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	PasswdCmd.Flags().Int("cost", 0, "bcrypt cost (0 = default)")
}
