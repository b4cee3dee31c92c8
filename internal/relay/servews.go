package relay

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/roverlink/roverlink/internal/hub"
	"github.com/roverlink/roverlink/internal/session"
	"github.com/roverlink/roverlink/internal/uptoken"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer; control frames are small
	maxMessageSize = 65536
)

// null subprotocol required by Chrome
// TODO restrict CheckOrigin
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    []string{"null"},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs handles websocket requests from clients. Browser controllers
// authenticate with the session cookie; robot uplinks present a signed
// token in the token query parameter. Failures are uniform 401s with no
// further detail.
func (rl *Relay) ServeWs(closed <-chan struct{}, w http.ResponseWriter, r *http.Request) {

	role := hub.Controller
	fixedRobotID := ""

	if signed := r.URL.Query().Get("token"); signed != "" {

		claims, err := uptoken.Verify(signed, rl.config.Secret, rl.config.Audience)

		if err != nil || !uptoken.HasUplinkScope(claims) {
			log.WithField("error", err).Debug("unauthorized - invalid uplink token")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		role = hub.Uplink
		fixedRobotID = claims.RobotID

	} else {

		cookie, err := r.Cookie(session.CookieName)

		if err != nil {
			log.Debug("unauthorized - no session cookie")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		signer := session.New(rl.config.SessionSecret)

		if _, ok := signer.Verify(cookie.Value); !ok {
			log.Debug("unauthorized - bad session cookie")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("error", err).Error("serveWs failed to upgrade to websocket")
		return
	}

	//Cannot return any http responses from here on

	client := &Client{
		relay: rl,
		conn:  conn,
		member: &hub.Client{
			Name:        uuid.New().String(),
			Role:        role,
			Send:        make(chan hub.Message, 256),
			ConnectedAt: time.Now(),
		},
		fixedRobotID: fixedRobotID,
		stats:        newStats(),
		userAgent:    r.UserAgent(),
		remoteAddr:   r.Header.Get("X-Forwarded-For"),
	}

	rl.addClient(client)

	go client.writePump(closed)
	go client.readPump()
}

func (rl *Relay) addClient(c *Client) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.conns[c.member.Name] = c
}

// setMember swaps the hub-facing member under the relay lock so Report
// never observes a torn update
func (c *Client) setMember(member *hub.Client) {
	c.relay.mu.Lock()
	defer c.relay.mu.Unlock()
	c.member = member
}

func (rl *Relay) removeClient(c *Client) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.conns, c.member.Name)
}
