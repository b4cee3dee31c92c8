package relay

import (
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// readPump pumps messages from the websocket connection to the hub.
//
// The application runs readPump in a per-connection goroutine. The
// application ensures that there is at most one reader on a connection
// by executing all reads from this goroutine.
func (c *Client) readPump() {

	defer func() {
		if c.joined {
			c.relay.config.Hub.Unregister <- c.member
		}
		c.relay.removeClient(c)
		c.conn.Close()
		log.Trace("readPump closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)

	err := c.conn.SetReadDeadline(time.Now().Add(pongWait))

	if err != nil {
		log.Errorf("readPump deadline error: %v", err)
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {

		mt, data, err := c.conn.ReadMessage()

		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Errorf("readPump error: %v", err)
			}
			break
		}

		c.stats.tx.add(len(data), c.stats.connectedAt)

		c.handleFrame(mt, data)
	}
}

// writePump pumps messages from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection
// by executing all writes from this goroutine. Frames are written one
// per message; coalescing would corrupt the JSON framing.
func (c *Client) writePump(closed <-chan struct{}) {

	send := c.member.Send // reused across room switches

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		log.Trace("writePump closed")
	}()

	for {
		select {

		case message, ok := <-send:
			err := c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err != nil {
				log.Errorf("writePump deadline error: %s", err.Error())
				return
			}

			if !ok {
				// The hub closed the channel.
				err := c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				if err != nil {
					log.Errorf("writePump closeMessage error: %s", err.Error())
				}
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Data); err != nil {
				// a failed send closes this connection only; the hub has
				// already delivered to the rest of the room
				log.Errorf("writePump writing error: %v", err)
				return
			}

			c.stats.rx.add(len(message.Data), c.stats.connectedAt)

		case <-ticker.C:
			err := c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err != nil {
				log.Errorf("writePump ping deadline error: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
