package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roverlink/roverlink/internal/accounts"
)

// hashCmd produces a bcrypt hash for a ROVERLINK_USERS entry
var hashCmd = &cobra.Command{
	Use:   "hash [password]",
	Short: "hash a password for use in ROVERLINK_USERS",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {

		hash, err := accounts.HashPassword(args[0])
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		fmt.Println(hash)

	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
}
