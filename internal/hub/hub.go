// Package hub relays messages between the connections joined to a room,
// one room per robot identity. Commands flow from controllers to the
// robot uplink, telemetry from the uplink to every controller; the hub
// also tracks telemetry recency so robot liveness can be derived without
// reference to raw connection state.
package hub

import (
	"sync"
	"time"
)

// OnlineWindow is the maximum gap since the last telemetry before a
// robot is considered offline. Several multiples of the expected 1Hz
// telemetry cadence, so a single dropped message does not flap the status.
const OnlineWindow = 3500 * time.Millisecond

// DefaultLinger is how long an empty room retains its last telemetry
// time, to avoid false offline/online flicker on quick reconnects.
const DefaultLinger = time.Minute

// Role tags a connection as either a controller or the robot's own uplink
type Role int

// Controller and Uplink are the two roles a room member can have
const (
	Controller Role = iota
	Uplink
)

// Kind distinguishes the two message streams relayed through a room
type Kind int

// Command and Telemetry are the two kinds of relayed message
const (
	Command Kind = iota
	Telemetry
)

// Client is a middleperson between the hub and whatever is
// sending/receiving messages on it
type Client struct {
	Name        string // for filtering who to send messages to
	RobotID     string // message broadcast scope is restricted to one room
	Role        Role
	Send        chan Message // for outbound messages to client
	ConnectedAt time.Time
}

// Message represents a message that is wrapped and ready for multiplexing;
// Data is relayed verbatim
type Message struct {
	Data   []byte
	Type   int // websocket message type
	Sender *Client
	Kind   Kind
	Stamp  time.Time // sender-reported timestamp, or arrival time
}

type room struct {
	clients         map[*Client]bool
	lastTelemetryAt time.Time
	emptySince      time.Time
}

// Hub maintains the set of rooms and broadcasts messages to their
// members. From gorilla/websocket chat, extended with per-room liveness.
type Hub struct {

	// Register requests from the clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Inbound messages from the clients
	Broadcast chan Message

	mu *sync.RWMutex

	rooms map[string]*room

	linger time.Duration

	// Now returns the current time - replace for testing
	Now func() time.Time
}

// New returns a pointer to an initialised Hub
func New() *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan Message),
		mu:         &sync.RWMutex{},
		rooms:      make(map[string]*room),
		linger:     DefaultLinger,
		Now:        time.Now,
	}
}

// WithLinger sets how long empty rooms are retained before Prune drops them
func (h *Hub) WithLinger(d time.Duration) *Hub {
	h.linger = d
	return h
}

// Run starts the hub. Membership changes and broadcasts are serialised
// through the channels, so a client that has left can neither receive
// nor contribute further room traffic.
func (h *Hub) Run(closed <-chan struct{}) {
	for {
		select {
		case <-closed:
			return
		case client := <-h.Register:
			h.mu.Lock()
			rm, ok := h.rooms[client.RobotID]
			if !ok {
				rm = &room{clients: make(map[*Client]bool)}
				h.rooms[client.RobotID] = rm
			}
			rm.clients[client] = true
			rm.emptySince = time.Time{}
			h.mu.Unlock()
		case client := <-h.Unregister:
			h.mu.Lock()
			if rm, ok := h.rooms[client.RobotID]; ok {
				delete(rm.clients, client)
				if len(rm.clients) == 0 {
					rm.emptySince = h.Now()
				}
			}
			h.mu.Unlock()
			//client knows it is finished, so no need to close(client.Send)
		case message := <-h.Broadcast:
			h.mu.Lock()
			rm, ok := h.rooms[message.Sender.RobotID]
			if !ok {
				h.mu.Unlock()
				break
			}
			if message.Kind == Telemetry && message.Stamp.After(rm.lastTelemetryAt) {
				rm.lastTelemetryAt = message.Stamp
			}
			for client := range rm.clients {
				if client.Name == message.Sender.Name {
					continue
				}
				select {
				case client.Send <- message:
				default:
					// an unresponsive client must not stall the room
				}
			}
			h.mu.Unlock()
		}
	}
}

// Online reports whether the robot's telemetry is recent enough to be
// considered live. Liveness is derived from telemetry recency, not from
// whether a connection happens to be open.
func (h *Hub) Online(robotID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rm, ok := h.rooms[robotID]

	if !ok || rm.lastTelemetryAt.IsZero() {
		return false
	}

	return h.Now().Sub(rm.lastTelemetryAt) <= OnlineWindow
}

// LastTelemetryAt returns the time of the most recent telemetry for a
// robot, zero if none has been seen
func (h *Hub) LastTelemetryAt(robotID string) time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if rm, ok := h.rooms[robotID]; ok {
		return rm.lastTelemetryAt
	}

	return time.Time{}
}

// Prune drops rooms that have been empty for longer than the linger
// period, releasing their liveness state
func (h *Hub) Prune() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.Now()

	stale := []string{}

	for robotID, rm := range h.rooms {
		if len(rm.clients) == 0 && !rm.emptySince.IsZero() && now.Sub(rm.emptySince) > h.linger {
			stale = append(stale, robotID)
		}
	}

	for _, robotID := range stale {
		delete(h.rooms, robotID)
	}
}
