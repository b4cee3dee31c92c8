package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roverlink",
	Short: "websocket control panel for remote robots",
	Long: `Roverlink relays driving commands and telemetry between browser
control panels and remote robots, over per-robot websocket rooms.
Panel users authenticate with a session cookie, robots with a signed
uplink token. See the serve, token, sim and drive subcommands.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
