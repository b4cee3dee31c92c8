// Package pilot is a controller-side client for the panel websocket.
// It joins a robot room, rate-limits outgoing commands through a
// throttler, and surfaces telemetry and liveness to its caller.
package pilot

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/roverlink/roverlink/internal/hub"
	"github.com/roverlink/roverlink/internal/reconws"
	"github.com/roverlink/roverlink/internal/relay"
	"github.com/roverlink/roverlink/internal/session"
	"github.com/roverlink/roverlink/internal/throttle"
)

// Telemetry is a decoded robot status frame.
type Telemetry struct {
	RobotID     string  `json:"robotId"`
	Speed       float64 `json:"speed"`
	Battery     float64 `json:"battery"`
	Temperature float64 `json:"temperature"`
	Timestamp   int64   `json:"timestamp"`
}

// Config sets up a Pilot.
type Config struct {
	// URL is the panel websocket endpoint, e.g. ws://host:port/ws
	URL string
	// Cookie is a signed session cookie value accepted by the panel
	Cookie string
	// RobotID is the room to drive
	RobotID string
	// Interval overrides the command throttle tick (zero for default)
	Interval time.Duration
}

type commandFrame struct {
	Type string `json:"type"`
	throttle.Command
}

// Pilot drives one robot. Create with New, then call Run in its own
// goroutine; input setters are safe from any goroutine.
type Pilot struct {
	Telemetry chan Telemetry

	config    Config
	link      *reconws.ReconWs
	throttler *throttle.Throttler

	mu              sync.RWMutex
	connected       bool
	joined          bool
	lastTelemetryAt time.Time
}

func New(config Config) *Pilot {

	link := reconws.New()
	if config.Cookie != "" {
		link.Header = map[string][]string{
			"Cookie": {session.CookieName + "=" + config.Cookie},
		}
	}

	p := &Pilot{
		Telemetry: make(chan Telemetry, 8),
		config:    config,
		link:      link,
	}

	p.throttler = throttle.New(p.sendCommand)
	if config.Interval > 0 {
		p.throttler = p.throttler.WithInterval(config.Interval)
	}

	return p
}

// Run connects to the panel and handles traffic until ctx is
// cancelled. On cancellation the throttler flushes a neutral command
// first, so a robot is never left running.
func (p *Pilot) Run(ctx context.Context) {

	// the link outlives ctx slightly so the throttler's final
	// neutral command reaches the wire before the socket closes
	linkCtx, cancelLink := context.WithCancel(context.Background())
	defer cancelLink()
	go p.link.Reconnect(linkCtx, p.config.URL)

	throttlerDone := make(chan struct{})
	go func() {
		p.throttler.Run(ctx)
		close(throttlerDone)
	}()

	for {
		select {
		case <-ctx.Done():
			<-throttlerDone
			return
		case <-p.link.Connects:
			p.mu.Lock()
			p.connected = true
			p.joined = false
			p.mu.Unlock()
			p.sendJoin()
		case <-p.link.Disconnects:
			p.mu.Lock()
			p.connected = false
			p.joined = false
			p.mu.Unlock()
		case f := <-p.link.In:
			p.handleFrame(f.Data)
		}
	}
}

func (p *Pilot) sendJoin() {
	data, err := json.Marshal(relay.Envelope{Type: relay.MessageJoin, RobotID: p.config.RobotID})
	if err != nil {
		return
	}
	p.link.Send(reconws.Frame{Data: data, Type: websocket.TextMessage})
}

func (p *Pilot) sendCommand(cmd throttle.Command) {

	p.mu.RLock()
	ok := p.connected && p.joined
	p.mu.RUnlock()

	if !ok {
		return
	}

	cmd.RobotID = p.config.RobotID
	cmd.Timestamp = time.Now().UnixMilli()

	data, err := json.Marshal(commandFrame{Type: relay.MessageCommand, Command: cmd})
	if err != nil {
		return
	}

	p.link.Send(reconws.Frame{Data: data, Type: websocket.TextMessage})
}

func (p *Pilot) handleFrame(data []byte) {

	var env relay.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.WithField("error", err).Debug("pilot: unparseable frame")
		return
	}

	switch env.Type {

	case relay.MessageJoined:
		p.mu.Lock()
		p.joined = true
		p.mu.Unlock()
		log.WithField("robotId", env.RobotID).Info("pilot: joined")

	case relay.MessageError:
		log.WithField("error", env.Error).Warn("pilot: panel rejected request")

	case relay.MessageTelemetry:
		var tel Telemetry
		if err := json.Unmarshal(data, &tel); err != nil {
			return
		}
		p.mu.Lock()
		p.lastTelemetryAt = time.Now()
		p.mu.Unlock()
		select {
		case p.Telemetry <- tel:
		default:
			// a slow consumer only ever misses stale readings
		}
	}
}

// Online reports whether the robot looks alive: we hold a connection
// and telemetry has arrived recently. A dead uplink with a live panel
// connection reads as offline.
func (p *Pilot) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && time.Since(p.lastTelemetryAt) <= hub.OnlineWindow
}

// Joined reports whether the panel has acknowledged our room join.
func (p *Pilot) Joined() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.joined
}

// SetMovement updates the desired throttle and steering.
func (p *Pilot) SetMovement(throttle, steer int) { p.throttler.SetMovement(throttle, steer) }

// SetCamera updates the desired camera pan and tilt.
func (p *Pilot) SetCamera(pan, tilt int) { p.throttler.SetCamera(pan, tilt) }

// SetMaxPower caps throttle output as a percentage.
func (p *Pilot) SetMaxPower(maxPower int) { p.throttler.SetMaxPower(maxPower) }

// SetHorn turns the horn on or off.
func (p *Pilot) SetHorn(on bool) { p.throttler.SetHorn(on) }

// SetLights turns the lights on or off.
func (p *Pilot) SetLights(on bool) { p.throttler.SetLights(on) }

// Neutral zeroes movement immediately, for focus-loss style events.
func (p *Pilot) Neutral() { p.throttler.Neutral() }
