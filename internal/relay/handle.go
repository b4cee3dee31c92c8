package relay

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/roverlink/roverlink/internal/hub"
)

// handleFrame routes one inbound frame. Per-message validation failures
// are silent drops; only the synchronous join gets an error ack. A
// malformed or spoofed frame must never take down the room.
func (c *Client) handleFrame(mt int, data []byte) {

	var env Envelope

	if err := json.Unmarshal(data, &env); err != nil {
		log.WithField("error", err).Debug("dropping unparseable frame")
		return
	}

	switch env.Type {
	case MessageJoin:
		c.handleJoin(env)
	case MessageCommand:
		c.handleRelay(env, mt, data, hub.Command)
	case MessageTelemetry:
		c.handleRelay(env, mt, data, hub.Telemetry)
	default:
		log.WithField("type", env.Type).Debug("dropping frame of unknown type")
	}
}

// handleJoin switches the connection into the room for env.RobotID. The
// error ack goes to the caller only, and on any failure the connection's
// room membership is unchanged.
func (c *Client) handleJoin(env Envelope) {

	robotID := env.RobotID

	if c.member.Role == hub.Uplink && robotID != c.fixedRobotID {
		c.ack(Envelope{Type: MessageError, Error: "invalid robotId"})
		return
	}

	if !c.relay.config.Registry.IsValid(robotID) {
		log.WithField("robotId", robotID).Debug("join rejected")
		c.ack(Envelope{Type: MessageError, Error: "invalid robotId"})
		return
	}

	// a connection belongs to at most one room; leave any prior room
	// before joining the new one
	if c.joined {
		if robotID == c.member.RobotID {
			c.ack(Envelope{Type: MessageJoined, RobotID: robotID})
			return
		}
		c.relay.config.Hub.Unregister <- c.member
	}

	// a fresh member keeps the hub's view of the old room immutable; the
	// send channel is reused so writePump is unaffected by the switch
	c.setMember(&hub.Client{
		Name:        c.member.Name,
		RobotID:     robotID,
		Role:        c.member.Role,
		Send:        c.member.Send,
		ConnectedAt: c.member.ConnectedAt,
	})
	c.relay.config.Hub.Register <- c.member
	c.joined = true

	log.WithFields(log.Fields{"robotId": robotID, "name": c.member.Name}).Debug("joined room")

	c.ack(Envelope{Type: MessageJoined, RobotID: robotID})
}

// handleRelay broadcasts a command or telemetry frame verbatim to the
// rest of the room
func (c *Client) handleRelay(env Envelope, mt int, data []byte, kind hub.Kind) {

	if !c.joined {
		return
	}

	// commands come only from controllers, telemetry only from uplinks
	if kind == hub.Command && c.member.Role != hub.Controller {
		return
	}

	if kind == hub.Telemetry && c.member.Role != hub.Uplink {
		return
	}

	// room membership is the source of truth; an explicit robotId is a
	// cross-check only, and a mismatch is a silent drop
	if env.RobotID != "" && env.RobotID != c.member.RobotID {
		log.WithFields(log.Fields{"robotId": env.RobotID, "room": c.member.RobotID}).Debug("dropping frame for wrong room")
		return
	}

	stamp := time.Now()

	if env.Timestamp > 0 {
		stamp = time.UnixMilli(env.Timestamp)
	}

	c.relay.config.Hub.Broadcast <- hub.Message{
		Data:   data,
		Type:   mt,
		Sender: c.member,
		Kind:   kind,
		Stamp:  stamp,
	}
}

// ack queues an acknowledgement for this connection only, via the same
// channel as relayed traffic so writePump stays the sole writer
func (c *Client) ack(env Envelope) {

	data, err := json.Marshal(env)

	if err != nil {
		log.WithField("error", err).Error("marshalling ack")
		return
	}

	select {
	case c.member.Send <- hub.Message{Data: data, Type: websocket.TextMessage, Sender: &hub.Client{}}:
	default:
		// connection too far behind to care about the ack
	}
}
