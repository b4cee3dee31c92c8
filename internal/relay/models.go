// Package relay serves the websocket endpoint that carries the room
// protocol: controllers and robot uplinks join a room for one robot
// identity, commands fan out from controllers to the uplink, and
// telemetry fans out from the uplink to every controller.
package relay

import (
	"sync"
	"time"

	"github.com/eclesh/welford"
	"github.com/gorilla/websocket"

	"github.com/roverlink/roverlink/internal/hub"
	"github.com/roverlink/roverlink/internal/registry"
)

// Message type names on the wire
const (
	MessageJoin      = "robot:join"
	MessageJoined    = "robot:joined"
	MessageError     = "robot:error"
	MessageCommand   = "robot:command"
	MessageTelemetry = "robot:telemetry"
)

// Config represents configuration options for a relay instance
type Config struct {

	// Audience must match the aud in uplink tokens
	Audience string

	// Secret validates uplink tokens
	Secret string

	// SessionSecret validates browser session cookies
	SessionSecret []byte

	// Registry is the allow-list of robot identities
	Registry *registry.Registry

	// Hub routes messages between room members
	Hub *hub.Hub
}

// Envelope is the part of a frame the relay itself inspects; command and
// telemetry payload bodies are relayed verbatim without re-marshalling
type Envelope struct {
	Type string `json:"type"`

	RobotID string `json:"robotId,omitempty"`

	Error string `json:"error,omitempty"`

	// Timestamp is sender-reported epoch ms, if any
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Relay tracks the live connections being served
type Relay struct {
	config Config

	mu *sync.RWMutex

	conns map[string]*Client
}

// New returns a relay for the given configuration
func New(config Config) *Relay {
	return &Relay{
		config: config,
		mu:     &sync.RWMutex{},
		conns:  make(map[string]*Client),
	}
}

// Client is a middleperson between the websocket connection and the hub
type Client struct {
	relay *Relay

	// The websocket connection
	conn *websocket.Conn

	// member represents this connection in the hub; its Send channel is
	// reused across room switches and carries acks as well as relayed
	// traffic, so writePump has a single source of outbound frames
	member *hub.Client

	// joined is true once member is registered in a room
	joined bool

	// uplinks may only ever join the robot identity in their token
	fixedRobotID string

	stats *Stats

	userAgent string

	remoteAddr string
}

// RxTx represents statistics for both receive and transmit
type RxTx struct {
	Tx ReportStats `json:"tx"`
	Rx ReportStats `json:"rx"`
}

// ReportStats represents statistics about what has been sent/received
type ReportStats struct {
	Last string `json:"last"` //how many seconds ago...

	Size float64 `json:"size"`

	Fps float64 `json:"fps"`
}

// ClientReport represents information about a client's connection and statistics
type ClientReport struct {
	RobotID string `json:"robotId"`

	Role string `json:"role"`

	Connected string `json:"connected"`

	RemoteAddr string `json:"remoteAddr"`

	UserAgent string `json:"userAgent"`

	Stats RxTx `json:"stats"`
}

// Stats represents statistics for a connection
type Stats struct {
	connectedAt time.Time

	rx *Frames

	tx *Frames
}

// Frames represents statistics on frames sent over a connection
type Frames struct {
	last time.Time

	size *welford.Stats

	ns *welford.Stats

	mu *sync.RWMutex
}

func newStats() *Stats {
	return &Stats{
		connectedAt: time.Now(),
		rx:          &Frames{size: welford.New(), ns: welford.New(), mu: &sync.RWMutex{}},
		tx:          &Frames{size: welford.New(), ns: welford.New(), mu: &sync.RWMutex{}},
	}
}
