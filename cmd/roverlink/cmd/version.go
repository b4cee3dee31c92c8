package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version and BuildTime are set at build time
var (
	Version   = "Version"
	BuildTime = "BuildTime"
)

func versionString() string {
	return Version + " " + BuildTime
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of roverlink",
	Long:  `All software has versions. This is roverlink's`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", Version, BuildTime)
	},
}
