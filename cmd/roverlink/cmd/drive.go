package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roverlink/roverlink/internal/pilot"
)

// driveSpecification holds the drive config, loaded from DRIVE_<var>
type driveSpecification struct {
	URL      string        `required:"true"`
	Cookie   string        `required:"true"`
	Robot    string        `required:"true"`
	Throttle int           `default:"50"`
	Steer    int           `default:"0"`
	MaxPower int           `split_words:"true" default:"70"`
	Duration time.Duration `default:"5s"`
}

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "drive sends a fixed command to a robot for a while",
	Long: `Drive is a command-line pilot for checking a deployment end to end:
it joins a robot's room with a session cookie, holds one movement
command for a duration, prints returning telemetry and leaves the
robot in neutral. Set the operating parameters with environment
variables, for example:

export DRIVE_URL=ws://localhost:3000/ws
export DRIVE_COOKIE=<session cookie value from /api/login>
export DRIVE_ROBOT=robot-001
export DRIVE_THROTTLE=50
export DRIVE_DURATION=5s
roverlink drive
`,
	Run: func(cmd *cobra.Command, args []string) {

		var spec driveSpecification
		if err := envconfig.Process("drive", &spec); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		log.SetFormatter(&log.TextFormatter{})
		log.SetLevel(log.WarnLevel)
		log.SetOutput(os.Stdout)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		go func() {
			<-c
			cancel()
		}()

		p := pilot.New(pilot.Config{
			URL:     spec.URL,
			Cookie:  spec.Cookie,
			RobotID: spec.Robot,
		})

		done := make(chan struct{})
		go func() {
			p.Run(ctx)
			close(done)
		}()

		go func() {
			for tel := range p.Telemetry {
				fmt.Printf("telemetry: speed=%.1f battery=%.1f temperature=%.1f online=%t\n",
					tel.Speed, tel.Battery, tel.Temperature, p.Online())
			}
		}()

		// wait for the join before driving
		deadline := time.Now().Add(10 * time.Second)
		for !p.Joined() {
			if time.Now().After(deadline) {
				fmt.Println("timed out waiting to join " + spec.Robot)
				cancel()
				<-done
				os.Exit(1)
			}
			select {
			case <-ctx.Done():
				<-done
				os.Exit(1)
			case <-time.After(100 * time.Millisecond):
			}
		}

		p.SetMaxPower(spec.MaxPower)
		p.SetMovement(spec.Throttle, spec.Steer)

		select {
		case <-time.After(spec.Duration):
		case <-ctx.Done():
		}

		// neutral goes out during shutdown regardless, but make the
		// intent explicit
		p.Neutral()
		cancel()
		<-done

	},
}

func init() {
	rootCmd.AddCommand(driveCmd)
}
