// Package panel runs the robot control panel service: the websocket
// relay plus the small JSON API for login, robot listing and status.
package panel

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/roverlink/roverlink/internal/accounts"
	"github.com/roverlink/roverlink/internal/hub"
	"github.com/roverlink/roverlink/internal/registry"
	"github.com/roverlink/roverlink/internal/relay"
	"github.com/roverlink/roverlink/internal/session"
)

// DefaultSessionTTL is how long a login lasts.
const DefaultSessionTTL = 12 * time.Hour

type Config struct {
	Port          int
	Audience      string
	Secret        string
	SessionSecret []byte
	SessionTTL    time.Duration
	Registry      *registry.Registry
	Accounts      *accounts.Store
	PruneEvery    time.Duration
}

type server struct {
	config Config
	hub    *hub.Hub
	relay  *relay.Relay
	signer *session.Signer
	closed <-chan struct{}
}

// Panel runs the control panel service until closed is closed.
func Panel(closed <-chan struct{}, parentwg *sync.WaitGroup, config Config) {

	defer parentwg.Done()

	if config.SessionTTL == 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if config.PruneEvery == 0 {
		config.PruneEvery = time.Minute
	}

	h := hub.New()
	go h.Run(closed)

	go func() {
		for {
			select {
			case <-closed:
				return
			case <-time.After(config.PruneEvery):
				h.Prune()
			}
		}
	}()

	rl := relay.New(relay.Config{
		Audience:      config.Audience,
		Secret:        config.Secret,
		SessionSecret: config.SessionSecret,
		Registry:      config.Registry,
		Hub:           h,
	})

	s := &server{
		config: config,
		hub:    h,
		relay:  rl,
		signer: session.New(config.SessionSecret),
		closed: closed,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/login", s.loginHandler).Methods("POST")
	r.HandleFunc("/api/logout", s.logoutHandler).Methods("POST")
	r.HandleFunc("/api/robots", s.requireSession(s.robotsHandler)).Methods("GET")
	r.HandleFunc("/api/status", s.requireAdmin(s.statusHandler)).Methods("GET")
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		rl.ServeWs(closed, w, req)
	})

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(config.Port),
		Handler: r,
	}

	go func() {
		<-closed
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithField("error", err).Error("panel: shutdown error")
		}
	}()

	log.WithField("port", config.Port).Info("panel: listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithField("error", err).Error("panel: server error")
	}

	log.Trace("panel: done")
}
