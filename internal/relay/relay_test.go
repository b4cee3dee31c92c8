package relay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phayes/freeport"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/roverlink/roverlink/internal/hub"
	"github.com/roverlink/roverlink/internal/registry"
	"github.com/roverlink/roverlink/internal/session"
	"github.com/roverlink/roverlink/internal/uptoken"
)

const testSecret = "somesecret"

var testSessionSecret = []byte("somesessionsecret")

func init() {
	var ignore bytes.Buffer
	log.SetOutput(bufio.NewWriter(&ignore))
}

type fixture struct {
	url      string
	audience string
	hub      *hub.Hub
	relay    *Relay
	closed   chan struct{}
}

func setup(t *testing.T) *fixture {

	port, err := freeport.GetFreePort()
	if err != nil {
		t.Fatal(err)
	}

	addr := "127.0.0.1:" + strconv.Itoa(port)
	audience := "ws://" + addr

	reg := registry.New(2)
	assert.NoError(t, reg.Add("robot-001", "Rover One"))
	assert.NoError(t, reg.Add("robot-002", "Rover Two"))

	h := hub.New()
	closed := make(chan struct{})
	go h.Run(closed)

	rl := New(Config{
		Audience:      audience,
		Secret:        testSecret,
		SessionSecret: testSessionSecret,
		Registry:      reg,
		Hub:           h,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		rl.ServeWs(closed, w, r)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()

	t.Cleanup(func() {
		close(closed)
		_ = srv.Close()
	})

	// safety margin to get the server running
	time.Sleep(100 * time.Millisecond)

	return &fixture{url: audience + "/ws", audience: audience, hub: h, relay: rl, closed: closed}
}

func sessionCookie(t *testing.T, subject string) string {

	signer := session.New(testSessionSecret)

	value, err := signer.Sign(session.Payload{
		Subject:   subject,
		Role:      session.User,
		ExpiresAt: time.Now().UnixMilli() + 60000,
	})
	assert.NoError(t, err)

	return session.CookieName + "=" + value
}

func uplinkToken(t *testing.T, audience, robotID string) string {

	begin := time.Now().Unix() - 1
	token := uptoken.New(audience, robotID, []string{uptoken.ScopeUplink}, begin, begin, begin+60)

	signed, err := uptoken.Signed(token, testSecret)
	assert.NoError(t, err)

	return signed
}

func dialController(t *testing.T, f *fixture, subject string) *websocket.Conn {

	header := http.Header{}
	header.Set("Cookie", sessionCookie(t, subject))

	conn, _, err := websocket.DefaultDialer.Dial(f.url, header)
	assert.NoError(t, err)

	t.Cleanup(func() { conn.Close() })

	return conn
}

func dialUplink(t *testing.T, f *fixture, robotID string) *websocket.Conn {

	conn, _, err := websocket.DefaultDialer.Dial(f.url+"?token="+uplinkToken(t, f.audience, robotID), nil)
	assert.NoError(t, err)

	t.Cleanup(func() { conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	assert.NoError(t, err)
	assert.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func recvJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]interface{} {
	assert.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	assert.NoError(t, err)

	var m map[string]interface{}
	assert.NoError(t, json.Unmarshal(data, &m))
	return m
}

func recvNothing(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	assert.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Errorf("expected no message, got %s", data)
	}
}

func join(t *testing.T, conn *websocket.Conn, robotID string) {
	send(t, conn, Envelope{Type: MessageJoin, RobotID: robotID})
	ack := recvJSON(t, conn, time.Second)
	assert.Equal(t, MessageJoined, ack["type"])
	assert.Equal(t, robotID, ack["robotId"])
}

func TestUnauthenticatedDialRejected(t *testing.T) {

	f := setup(t)

	_, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestBadSessionCookieRejected(t *testing.T) {

	f := setup(t)

	header := http.Header{}
	header.Set("Cookie", session.CookieName+"=not.avalidcookie")

	_, resp, err := websocket.DefaultDialer.Dial(f.url, header)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestJoinInvalidRobotID(t *testing.T) {

	f := setup(t)

	conn := dialController(t, f, "alice")

	// not in the allow-list
	send(t, conn, Envelope{Type: MessageJoin, RobotID: "robot-999"})
	ack := recvJSON(t, conn, time.Second)
	assert.Equal(t, MessageError, ack["type"])

	// bad charset
	send(t, conn, Envelope{Type: MessageJoin, RobotID: "robot 001"})
	ack = recvJSON(t, conn, time.Second)
	assert.Equal(t, MessageError, ack["type"])

	// membership unchanged: a valid join still works, and no duplicate
	// error acks arrived in the meantime
	join(t, conn, "robot-001")
}

func TestCommandFansOutWithinRoomOnly(t *testing.T) {

	f := setup(t)

	ctlA := dialController(t, f, "alice")
	ctlB := dialController(t, f, "bob")
	up := dialUplink(t, f, "robot-001")
	other := dialController(t, f, "carol")

	join(t, ctlA, "robot-001")
	join(t, ctlB, "robot-001")
	join(t, up, "robot-001")
	join(t, other, "robot-002")

	cmd := map[string]interface{}{
		"type":      MessageCommand,
		"robotId":   "robot-001",
		"throttle":  50,
		"steer":     0,
		"timestamp": time.Now().UnixMilli(),
	}
	send(t, ctlA, cmd)

	got := recvJSON(t, up, time.Second)
	assert.Equal(t, MessageCommand, got["type"])
	assert.Equal(t, float64(50), got["throttle"])

	got = recvJSON(t, ctlB, time.Second)
	assert.Equal(t, float64(50), got["throttle"])

	// the sender gets no echo, the other room gets nothing
	recvNothing(t, ctlA, 200*time.Millisecond)
	recvNothing(t, other, 200*time.Millisecond)
}

func TestTelemetryFansOutAndDrivesLiveness(t *testing.T) {

	f := setup(t)

	ctl := dialController(t, f, "alice")
	up := dialUplink(t, f, "robot-001")

	join(t, ctl, "robot-001")
	join(t, up, "robot-001")

	assert.False(t, f.hub.Online("robot-001"))

	now := time.Now().UnixMilli()
	send(t, up, map[string]interface{}{
		"type":        MessageTelemetry,
		"robotId":     "robot-001",
		"speed":       1.5,
		"battery":     87.5,
		"temperature": 26.0,
		"timestamp":   now,
	})

	got := recvJSON(t, ctl, time.Second)
	assert.Equal(t, MessageTelemetry, got["type"])
	assert.Equal(t, 87.5, got["battery"])

	assert.True(t, f.hub.Online("robot-001"))
	assert.Equal(t, time.UnixMilli(now), f.hub.LastTelemetryAt("robot-001"))
}

func TestMismatchedRobotIDSilentlyDropped(t *testing.T) {

	f := setup(t)

	ctl := dialController(t, f, "alice")
	up := dialUplink(t, f, "robot-001")

	join(t, ctl, "robot-001")
	join(t, up, "robot-001")

	send(t, ctl, map[string]interface{}{
		"type":      MessageCommand,
		"robotId":   "robot-002",
		"throttle":  50,
		"timestamp": time.Now().UnixMilli(),
	})

	recvNothing(t, up, 200*time.Millisecond)
	recvNothing(t, ctl, 10*time.Millisecond)
}

func TestRoleGating(t *testing.T) {

	f := setup(t)

	ctl := dialController(t, f, "alice")
	watcher := dialController(t, f, "bob")
	up := dialUplink(t, f, "robot-001")

	join(t, ctl, "robot-001")
	join(t, watcher, "robot-001")
	join(t, up, "robot-001")

	// telemetry from a controller is dropped
	send(t, ctl, map[string]interface{}{
		"type":      MessageTelemetry,
		"battery":   1.0,
		"timestamp": time.Now().UnixMilli(),
	})
	recvNothing(t, watcher, 200*time.Millisecond)
	assert.False(t, f.hub.Online("robot-001"))

	// a command from the uplink is dropped
	send(t, up, map[string]interface{}{
		"type":      MessageCommand,
		"throttle":  100,
		"timestamp": time.Now().UnixMilli(),
	})
	recvNothing(t, watcher, 200*time.Millisecond)
}

func TestUplinkRestrictedToOwnRobot(t *testing.T) {

	f := setup(t)

	up := dialUplink(t, f, "robot-001")

	send(t, up, Envelope{Type: MessageJoin, RobotID: "robot-002"})
	ack := recvJSON(t, up, time.Second)
	assert.Equal(t, MessageError, ack["type"])

	join(t, up, "robot-001")
}

func TestRoomSwitchLeavesPreviousRoom(t *testing.T) {

	f := setup(t)

	ctl := dialController(t, f, "alice")
	mover := dialController(t, f, "bob")
	up := dialUplink(t, f, "robot-001")

	join(t, ctl, "robot-001")
	join(t, mover, "robot-001")
	join(t, up, "robot-001")

	// command reaches mover while it is in robot-001
	send(t, ctl, map[string]interface{}{"type": MessageCommand, "throttle": 10, "timestamp": time.Now().UnixMilli()})
	got := recvJSON(t, mover, time.Second)
	assert.Equal(t, float64(10), got["throttle"])
	recvJSON(t, up, time.Second)

	// after switching rooms, mover receives nothing further from robot-001
	join(t, mover, "robot-002")

	send(t, ctl, map[string]interface{}{"type": MessageCommand, "throttle": 20, "timestamp": time.Now().UnixMilli()})
	recvJSON(t, up, time.Second)
	recvNothing(t, mover, 200*time.Millisecond)
}

func TestMalformedFrameDoesNotBreakRoom(t *testing.T) {

	f := setup(t)

	ctl := dialController(t, f, "alice")
	up := dialUplink(t, f, "robot-001")

	join(t, ctl, "robot-001")
	join(t, up, "robot-001")

	assert.NoError(t, ctl.WriteMessage(websocket.TextMessage, []byte("this is not json")))
	assert.NoError(t, ctl.WriteMessage(websocket.TextMessage, []byte(`{"type":"no:such:thing"}`)))

	// the room still relays fine afterwards
	send(t, ctl, map[string]interface{}{"type": MessageCommand, "throttle": 5, "timestamp": time.Now().UnixMilli()})
	got := recvJSON(t, up, time.Second)
	assert.Equal(t, float64(5), got["throttle"])
}

func TestReportListsConnections(t *testing.T) {

	f := setup(t)

	ctl := dialController(t, f, "alice")
	up := dialUplink(t, f, "robot-001")

	join(t, ctl, "robot-001")
	join(t, up, "robot-001")

	send(t, ctl, map[string]interface{}{"type": MessageCommand, "throttle": 5, "timestamp": time.Now().UnixMilli()})
	recvJSON(t, up, time.Second)

	time.Sleep(100 * time.Millisecond)

	reports := f.relay.Report()
	assert.Equal(t, 2, len(reports))
	assert.Equal(t, "robot-001", reports[0].RobotID)

	roles := map[string]bool{}
	for _, r := range reports {
		roles[r.Role] = true
	}
	assert.True(t, roles["controller"])
	assert.True(t, roles["uplink"])
}
