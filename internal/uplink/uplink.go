// Package uplink is a robot-side client for the panel websocket. It
// authenticates with a scoped token, joins its own room, forwards
// incoming commands to a handler and publishes telemetry.
package uplink

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/roverlink/roverlink/internal/pilot"
	"github.com/roverlink/roverlink/internal/reconws"
	"github.com/roverlink/roverlink/internal/relay"
	"github.com/roverlink/roverlink/internal/throttle"
)

// TelemetryInterval is how often telemetry goes out while joined.
const TelemetryInterval = time.Second

// Config sets up an Uplink.
type Config struct {
	// URL is the panel websocket endpoint, e.g. ws://host:port/ws
	URL string
	// Token is a signed uplink token for RobotID
	Token string
	// RobotID must match the token's robot claim
	RobotID string
	// OnCommand receives every decoded command for this robot
	OnCommand func(throttle.State)
	// Telemetry is polled once per TelemetryInterval while joined
	Telemetry func() pilot.Telemetry
}

// Uplink connects a robot to its panel room.
type Uplink struct {
	config Config
	link   *reconws.ReconWs

	mu     sync.RWMutex
	joined bool
}

func New(config Config) *Uplink {
	return &Uplink{
		config: config,
		link:   reconws.New(),
	}
}

// Run connects and handles traffic until ctx is cancelled.
func (u *Uplink) Run(ctx context.Context) {

	dialURL := u.config.URL + "?token=" + url.QueryEscape(u.config.Token)

	go u.link.Reconnect(ctx, dialURL)

	ticker := time.NewTicker(TelemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-u.link.Connects:
			u.setJoined(false)
			u.sendJoin()
		case <-u.link.Disconnects:
			u.setJoined(false)
		case f := <-u.link.In:
			u.handleFrame(f.Data)
		case <-ticker.C:
			u.sendTelemetry()
		}
	}
}

func (u *Uplink) setJoined(joined bool) {
	u.mu.Lock()
	u.joined = joined
	u.mu.Unlock()
}

// Joined reports whether the panel has acknowledged our room join.
func (u *Uplink) Joined() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.joined
}

func (u *Uplink) sendJoin() {
	data, err := json.Marshal(relay.Envelope{Type: relay.MessageJoin, RobotID: u.config.RobotID})
	if err != nil {
		return
	}
	u.link.Send(reconws.Frame{Data: data, Type: websocket.TextMessage})
}

func (u *Uplink) sendTelemetry() {

	if !u.Joined() || u.config.Telemetry == nil {
		return
	}

	tel := u.config.Telemetry()
	tel.RobotID = u.config.RobotID
	tel.Timestamp = time.Now().UnixMilli()

	data, err := json.Marshal(struct {
		Type string `json:"type"`
		pilot.Telemetry
	}{Type: relay.MessageTelemetry, Telemetry: tel})
	if err != nil {
		return
	}

	u.link.Send(reconws.Frame{Data: data, Type: websocket.TextMessage})
}

func (u *Uplink) handleFrame(data []byte) {

	var env relay.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.WithField("error", err).Debug("uplink: unparseable frame")
		return
	}

	switch env.Type {

	case relay.MessageJoined:
		u.setJoined(true)
		log.WithField("robotId", env.RobotID).Info("uplink: joined")

	case relay.MessageError:
		log.WithField("error", env.Error).Warn("uplink: panel rejected request")

	case relay.MessageCommand:
		if u.config.OnCommand == nil {
			return
		}
		var cmd throttle.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return
		}
		u.config.OnCommand(cmd.State)
	}
}
