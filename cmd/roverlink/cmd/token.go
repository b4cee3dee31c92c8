package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roverlink/roverlink/internal/uptoken"
)

// tokenCmd mints an uplink token for one robot
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "token generates a new uplink token for a robot",
	Long: `Set the operating parameters with environment variables, for example

export ROVERLINK_TOKEN_LIFETIME=3600
export ROVERLINK_TOKEN_SECRET=somesecret
export ROVERLINK_TOKEN_ROBOT=robot-001
export ROVERLINK_TOKEN_AUDIENCE=ws://localhost:3000
token=$(roverlink token)
`,

	Run: func(cmd *cobra.Command, args []string) {

		viper.SetEnvPrefix("ROVERLINK_TOKEN")
		viper.AutomaticEnv()

		viper.SetDefault("lifetime", 86400)

		lifetime := viper.GetInt64("lifetime")
		audience := viper.GetString("audience")
		secret := viper.GetString("secret")
		robot := viper.GetString("robot")

		// check inputs

		if secret == "" {
			fmt.Println("ROVERLINK_TOKEN_SECRET not set")
			os.Exit(1)
		}
		if robot == "" {
			fmt.Println("ROVERLINK_TOKEN_ROBOT not set")
			os.Exit(1)
		}
		if audience == "" {
			fmt.Println("ROVERLINK_TOKEN_AUDIENCE not set")
			os.Exit(1)
		}

		iat := time.Now().Unix() - 1 //ensure immediately usable
		nbf := iat
		exp := iat + lifetime

		token := uptoken.New(audience, robot, []string{uptoken.ScopeUplink}, iat, nbf, exp)

		signed, err := uptoken.Signed(token, secret)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		fmt.Println(signed)
		os.Exit(0)

	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
