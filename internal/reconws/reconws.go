// Package reconws is a websocket client that reconnects with
// exponential backoff. The pilot and uplink clients use it to ride out
// panel restarts and flaky robot networks.
package reconws

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"
)

// Frame is a single websocket message.
type Frame struct {
	Data []byte
	Type int
}

// RetryConfig sets the dial backoff parameters.
type RetryConfig struct {
	Factor float64
	Jitter bool
	Min    time.Duration
	Max    time.Duration
}

// ReconWs is a reconnecting websocket client. Incoming frames arrive
// on In; frames written to Out are sent on the current connection, or
// dropped if there is none. Each successful dial is signalled on
// Connects, each connection loss on Disconnects, so callers can redo
// per-connection setup such as re-joining a room.
type ReconWs struct {
	Connects    chan struct{}
	Disconnects chan struct{}
	ConnectedAt time.Time
	Header      http.Header
	In          chan Frame
	Out         chan Frame
	Retry       RetryConfig
	ID          string
}

// New returns a ReconWs with production retry defaults.
func New() *ReconWs {
	return &ReconWs{
		Connects:    make(chan struct{}, 1),
		Disconnects: make(chan struct{}, 1),
		In:          make(chan Frame, 32),
		Out:         make(chan Frame, 32),
		Retry: RetryConfig{
			Factor: 2,
			Min:    1 * time.Second,
			Max:    10 * time.Second,
			Jitter: true,
		},
		ID: uuid.New().String()[0:6],
	}
}

func (r *ReconWs) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Reconnect dials url, handles traffic until the connection drops,
// then redials with backoff. Run it in its own goroutine; it returns
// when ctx is cancelled.
func (r *ReconWs) Reconnect(ctx context.Context, urlStr string) {

	id := "reconws.Reconnect(" + r.ID + ")"

	boff := &backoff.Backoff{
		Min:    r.Retry.Min,
		Max:    r.Retry.Max,
		Factor: r.Retry.Factor,
		Jitter: r.Retry.Jitter,
	}

	for {

		select {
		case <-ctx.Done():
			return
		default:

			err := r.dial(ctx, urlStr)

			if err == nil {
				// a clean session resets the backoff
				boff.Reset()
				log.Tracef("%s: connection ended cleanly", id)
			} else {
				d := boff.Duration()
				log.WithField("error", err).Debugf("%s: dial failed, next attempt in %s", id, d)
				select {
				case <-ctx.Done():
					return
				case <-time.After(d):
				}
			}
		}
	}
}

// dial connects once and shuttles frames until the connection or the
// context ends. A nil return means we were connected and traffic
// flowed; an error means the dial itself failed.
func (r *ReconWs) dial(ctx context.Context, urlStr string) error {

	id := "reconws.dial(" + r.ID + ")"

	u, err := url.Parse(urlStr)
	if err != nil {
		return err
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("url scheme must be ws or wss")
	}

	c, _, err := websocket.DefaultDialer.DialContext(ctx, urlStr, r.Header)
	if err != nil {
		return err
	}

	r.ConnectedAt = time.Now()
	r.signal(r.Connects)
	log.Tracef("%s: connected to %s", id, u.Redacted())

	readClosed := make(chan struct{})

	go func() {
		defer close(readClosed)
		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				// expected when the writer closes the conn on exit
				log.WithField("error", err).Debugf("%s: read ended", id)
				return
			}
			select {
			case r.In <- Frame{Data: data, Type: mt}:
			case <-ctx.Done():
				return
			}
		}
	}()

WRITING:
	for {
		select {
		case <-readClosed:
			break WRITING
		case msg := <-r.Out:
			if err := c.WriteMessage(msg.Type, msg.Data); err != nil {
				log.WithField("error", err).Debugf("%s: write failed", id)
				break WRITING
			}
		case <-ctx.Done():
			// flush frames queued before cancellation, e.g. a
			// final neutral command, then close cleanly
		DRAIN:
			for {
				select {
				case msg := <-r.Out:
					if err := c.WriteMessage(msg.Type, msg.Data); err != nil {
						break DRAIN
					}
				default:
					break DRAIN
				}
			}
			err := c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.WithField("error", err).Debugf("%s: close message failed", id)
			}
			break WRITING
		}
	}

	c.Close()
	r.signal(r.Disconnects)

	return nil
}

// Send queues a frame for the current connection, dropping it if the
// outgoing buffer is full. Stale commands are worse than lost ones.
func (r *ReconWs) Send(f Frame) {
	select {
	case r.Out <- f:
	default:
		log.Debugf("reconws(%s): outgoing buffer full, frame dropped", r.ID)
	}
}
