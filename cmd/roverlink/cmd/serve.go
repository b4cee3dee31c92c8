package cmd

import (
	"fmt"
	"net/http"
	_ "net/http/pprof" //ok in production https://medium.com/google-cloud/continuous-profiling-of-go-programs-96d4416af77b
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roverlink/roverlink/internal/accounts"
	"github.com/roverlink/roverlink/internal/panel"
	"github.com/roverlink/roverlink/internal/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "robot control panel server",
	Long: `Serve runs the control panel: the websocket relay for commands and
telemetry plus the login and status API. Set parameters with environment
variables, for example:

export ROVERLINK_AUDIENCE=ws://localhost:3000
export ROVERLINK_LOG_FILE=stdout
export ROVERLINK_LOG_FORMAT=text
export ROVERLINK_LOG_LEVEL=info
export ROVERLINK_PORT=3000
export ROVERLINK_ROBOTS=robot-001:Rover One,robot-002:Rover Two
export ROVERLINK_SECRET=somesecret
export ROVERLINK_SESSION_SECRET=somesessionsecret
export ROVERLINK_SESSION_TTL=12h
export ROVERLINK_TIDY_EVERY=1m
export ROVERLINK_USERS=alice:$(roverlink hash opensesame):admin
roverlink serve

Notes:
ROVERLINK_SECRET signs uplink tokens; ROVERLINK_SESSION_SECRET signs
session cookies. Use different values.
ROVERLINK_TIDY_EVERY is an optional tuning parameter that can safely be
left at the default value.
`,
	Run: func(cmd *cobra.Command, args []string) {

		viper.SetEnvPrefix("ROVERLINK")
		viper.AutomaticEnv()

		viper.SetDefault("audience", "") //so we can check it's been provided
		viper.SetDefault("log_file", "/var/log/roverlink/roverlink.log")
		viper.SetDefault("log_format", "json")
		viper.SetDefault("log_level", "warn")
		viper.SetDefault("port", 3000)
		viper.SetDefault("port_profile", 6061)
		viper.SetDefault("profile", "false")
		viper.SetDefault("robots", "") //so we can check it's been provided
		viper.SetDefault("secret", "")
		viper.SetDefault("session_secret", "")
		viper.SetDefault("session_ttl", "12h")
		viper.SetDefault("tidy_every", "1m")
		viper.SetDefault("users", "")

		audience := viper.GetString("audience")
		logFile := viper.GetString("log_file")
		logFormat := viper.GetString("log_format")
		logLevel := viper.GetString("log_level")
		port := viper.GetInt("port")
		portProfile := viper.GetInt("port_profile")
		profile := viper.GetBool("profile")
		robots := viper.GetString("robots")
		secret := viper.GetString("secret")
		sessionSecret := viper.GetString("session_secret")
		sessionTTLStr := viper.GetString("session_ttl")
		tidyEveryStr := viper.GetString("tidy_every")
		users := viper.GetString("users")

		// Sanity checks
		ok := true

		if audience == "" {
			fmt.Println("You must set ROVERLINK_AUDIENCE")
			ok = false
		}

		if secret == "" {
			fmt.Println("You must set ROVERLINK_SECRET")
			ok = false
		}

		if sessionSecret == "" {
			fmt.Println("You must set ROVERLINK_SESSION_SECRET")
			ok = false
		}

		if robots == "" {
			fmt.Println("You must set ROVERLINK_ROBOTS")
			ok = false
		}

		if users == "" {
			fmt.Println("You must set ROVERLINK_USERS")
			ok = false
		}

		if !ok {
			os.Exit(1)
		}

		// parse durations

		tidyEvery, err := time.ParseDuration(tidyEveryStr)
		if err != nil {
			fmt.Println("cannot parse duration in ROVERLINK_TIDY_EVERY=" + tidyEveryStr)
			os.Exit(1)
		}

		sessionTTL, err := time.ParseDuration(sessionTTLStr)
		if err != nil {
			fmt.Println("cannot parse duration in ROVERLINK_SESSION_TTL=" + sessionTTLStr)
			os.Exit(1)
		}

		// parse rosters

		reg := registry.New(registry.DefaultMax)
		if err := registry.ParseRoster(reg, robots); err != nil {
			fmt.Println("cannot parse ROVERLINK_ROBOTS: " + err.Error())
			os.Exit(1)
		}

		userStore, err := accounts.ParseRoster(users)
		if err != nil {
			fmt.Println("cannot parse ROVERLINK_USERS: " + err.Error())
			os.Exit(1)
		}

		// set up logging
		switch strings.ToLower(logLevel) {
		case "trace":
			log.SetLevel(log.TraceLevel)
		case "debug":
			log.SetLevel(log.DebugLevel)
		case "info":
			log.SetLevel(log.InfoLevel)
		case "warn":
			log.SetLevel(log.WarnLevel)
		case "error":
			log.SetLevel(log.ErrorLevel)
		case "fatal":
			log.SetLevel(log.FatalLevel)
		case "panic":
			log.SetLevel(log.PanicLevel)
		default:
			fmt.Println("ROVERLINK_LOG_LEVEL can be trace, debug, info, warn, error, fatal or panic but not " + logLevel)
			os.Exit(1)
		}

		switch strings.ToLower(logFormat) {
		case "json":
			log.SetFormatter(&log.JSONFormatter{})
		case "text":
			log.SetFormatter(&log.TextFormatter{})
		default:
			fmt.Println("ROVERLINK_LOG_FORMAT can be json or text but not " + logFormat)
			os.Exit(1)
		}

		if strings.ToLower(logFile) == "stdout" {

			log.SetOutput(os.Stdout)

		} else {

			file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err == nil {
				log.SetOutput(file)
			} else {
				log.Infof("Failed to log to %s, logging to default stderr", logFile)
			}
		}

		// Report useful info
		log.Infof("roverlink version: %s", versionString())
		log.Infof("Audience: [%s]", audience)
		log.Infof("Log file: [%s]", logFile)
		log.Infof("Log format: [%s]", logFormat)
		log.Infof("Log level: [%s]", logLevel)
		log.Infof("Port: [%d]", port)
		log.Infof("Profiling is on: [%t]", profile)
		log.Infof("Robots: [%d]", reg.Count())
		log.Infof("Session TTL: [%s]", sessionTTL)
		log.Infof("Tidy every: [%s]", tidyEvery)
		log.Infof("Users: [%d]", userStore.Count())

		// Optionally start the profiling server
		if profile {
			go func() {
				url := "localhost:" + strconv.Itoa(portProfile)
				err := http.ListenAndServe(url, nil)
				if err != nil {
					log.Errorf(err.Error())
				}
			}()
		}

		var wg sync.WaitGroup

		closed := make(chan struct{})

		c := make(chan os.Signal, 1)

		signal.Notify(c, os.Interrupt)

		go func() {
			for range c {
				close(closed)
				wg.Wait()
				os.Exit(0)
			}
		}()

		wg.Add(1)

		config := panel.Config{
			Port:          port,
			Audience:      audience,
			Secret:        secret,
			SessionSecret: []byte(sessionSecret),
			SessionTTL:    sessionTTL,
			Registry:      reg,
			Accounts:      userStore,
			PruneEvery:    tidyEvery,
		}

		go panel.Panel(closed, &wg, config)

		wg.Wait()

	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
