package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roverlink/roverlink/internal/uplink"
)

// simSpecification holds the sim config, loaded from SIM_<var>
type simSpecification struct {
	URL     string `required:"true"`
	Token   string `required:"true"`
	Robot   string `required:"true"`
	LogText bool   `split_words:"true" default:"true"`
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "sim runs a simulated robot against a control panel",
	Long: `Sim connects a simulated rover to a panel using an uplink token,
so panels can be demonstrated and soak tested without hardware. Set the
operating parameters with environment variables, for example:

export SIM_URL=ws://localhost:3000/ws
export SIM_TOKEN=$(roverlink token)
export SIM_ROBOT=robot-001
roverlink sim
`,
	Run: func(cmd *cobra.Command, args []string) {

		var spec simSpecification
		if err := envconfig.Process("sim", &spec); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		if spec.LogText {
			log.SetFormatter(&log.TextFormatter{})
			log.SetLevel(log.InfoLevel)
			log.SetOutput(os.Stdout)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		go func() {
			<-c
			cancel()
		}()

		sim := uplink.NewSim()

		u := uplink.New(uplink.Config{
			URL:       spec.URL,
			Token:     spec.Token,
			RobotID:   spec.Robot,
			OnCommand: sim.Apply,
			Telemetry: sim.Read,
		})

		log.WithField("robotId", spec.Robot).Info("sim: starting")

		u.Run(ctx)

	},
}

func init() {
	rootCmd.AddCommand(simCmd)
}
