package pilot

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"

	"github.com/roverlink/roverlink/internal/relay"
	"github.com/roverlink/roverlink/internal/throttle"
)

var upgrader = websocket.Upgrader{}

// fakePanel acks joins and records every command it receives.
type fakePanel struct {
	mu       sync.Mutex
	commands []throttle.Command
	conns    []*websocket.Conn
	cookies  []string
}

func (f *fakePanel) handler(w http.ResponseWriter, r *http.Request) {

	f.mu.Lock()
	f.cookies = append(f.cookies, r.Header.Get("Cookie"))
	f.mu.Unlock()

	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}

		var env relay.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case relay.MessageJoin:
			ack, _ := json.Marshal(relay.Envelope{Type: relay.MessageJoined, RobotID: env.RobotID})
			if err := c.WriteMessage(websocket.TextMessage, ack); err != nil {
				return
			}
		case relay.MessageCommand:
			var cmd throttle.Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			f.mu.Lock()
			f.commands = append(f.commands, cmd)
			f.mu.Unlock()
		}
	}
}

func (f *fakePanel) commandCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

func (f *fakePanel) lastCommand() throttle.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}

func (f *fakePanel) sendTelemetry(t *testing.T, tel Telemetry) {
	f.mu.Lock()
	conn := f.conns[len(f.conns)-1]
	f.mu.Unlock()

	data, err := json.Marshal(struct {
		Type string `json:"type"`
		Telemetry
	}{Type: relay.MessageTelemetry, Telemetry: tel})
	assert.NoError(t, err)
	assert.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func startFakePanel(t *testing.T) (*fakePanel, string) {

	port, err := freeport.GetFreePort()
	assert.NoError(t, err)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	f := &fakePanel{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.handler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	t.Cleanup(func() { _ = srv.Close() })

	time.Sleep(100 * time.Millisecond)

	return f, "ws://" + addr + "/ws"
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestJoinAndCommand(t *testing.T) {

	panel, url := startFakePanel(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{
		URL:      url,
		Cookie:   "signedcookievalue",
		RobotID:  "robot-001",
		Interval: 10 * time.Millisecond,
	})
	go p.Run(ctx)

	waitFor(t, 2*time.Second, p.Joined)

	p.SetMovement(100, 30)

	waitFor(t, time.Second, func() bool { return panel.commandCount() > 0 })

	cmd := panel.lastCommand()
	assert.Equal(t, 70, cmd.State.Throttle) // 100 scaled by default max power
	assert.Equal(t, 30, cmd.State.Steer)
	assert.Equal(t, "robot-001", cmd.RobotID)
	assert.NotZero(t, cmd.Timestamp)

	// the session cookie went out with the handshake
	panel.mu.Lock()
	cookie := panel.cookies[0]
	panel.mu.Unlock()
	assert.Contains(t, cookie, "rover_session=signedcookievalue")
}

func TestTelemetryAndLiveness(t *testing.T) {

	panel, url := startFakePanel(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{URL: url, RobotID: "robot-001", Interval: 10 * time.Millisecond})
	go p.Run(ctx)

	waitFor(t, 2*time.Second, p.Joined)

	assert.False(t, p.Online())

	panel.sendTelemetry(t, Telemetry{
		RobotID:     "robot-001",
		Speed:       1.2,
		Battery:     93.5,
		Temperature: 27.1,
		Timestamp:   time.Now().UnixMilli(),
	})

	select {
	case tel := <-p.Telemetry:
		assert.Equal(t, 93.5, tel.Battery)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for telemetry")
	}

	assert.True(t, p.Online())
}

func TestNeutralFlushOnShutdown(t *testing.T) {

	panel, url := startFakePanel(t)

	ctx, cancel := context.WithCancel(context.Background())

	p := New(Config{URL: url, RobotID: "robot-001", Interval: 10 * time.Millisecond})
	go p.Run(ctx)

	waitFor(t, 2*time.Second, p.Joined)

	p.SetMovement(80, 10)
	waitFor(t, time.Second, func() bool { return panel.commandCount() > 0 })

	cancel()

	// the final command on the wire is neutral
	waitFor(t, time.Second, func() bool {
		if panel.commandCount() < 2 {
			return false
		}
		cmd := panel.lastCommand()
		return cmd.State.Throttle == 0 && cmd.State.Steer == 0 && !cmd.State.Horn
	})
}
