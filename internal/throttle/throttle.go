// Package throttle collapses rapid control-input changes into a bounded
// rate command stream. Input handlers update the desired state as often
// as they like; a fixed-interval tick transmits only when the desired
// state differs from the last one sent, and a neutral command is always
// flushed when intent is lost (blur, hidden tab, stop, teardown).
package throttle

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval balances perceived control latency against channel load
const DefaultInterval = 50 * time.Millisecond

// DefaultMaxPower is the initial power governor setting, in percent
const DefaultMaxPower = 70

// State represents the control inputs for a robot at one instant
type State struct {
	Throttle   int  `json:"throttle"`             // -100 to 100
	Steer      int  `json:"steer"`                // -90 to 90
	CameraPan  int  `json:"cameraPan,omitempty"`  // -90 to 90
	CameraTilt int  `json:"cameraTilt,omitempty"` // -45 to 45
	MaxPower   int  `json:"maxPower,omitempty"`   // 0 to 100
	Horn       bool `json:"horn,omitempty"`
	Lights     bool `json:"lights,omitempty"`
}

// Command is a state stamped for transmission. Fire and forget; no
// persistence, at most one per tick.
type Command struct {
	State
	RobotID   string `json:"robotId,omitempty"`
	Timestamp int64  `json:"timestamp"` // epoch ms
}

// Throttler owns the desired and last-sent control state for one
// controller connection
type Throttler struct {
	mu sync.Mutex

	desired  State
	lastSent State

	interval time.Duration

	send func(Command)

	// Now returns the current Unix time in milliseconds - replace for testing
	Now func() int64
}

// New returns a Throttler transmitting via send at the default interval
func New(send func(Command)) *Throttler {
	return &Throttler{
		desired:  State{MaxPower: DefaultMaxPower},
		lastSent: State{MaxPower: DefaultMaxPower},
		interval: DefaultInterval,
		send:     send,
		Now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// WithInterval sets the tick interval
func (t *Throttler) WithInterval(d time.Duration) *Throttler {
	t.interval = d
	return t
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// SetMovement updates the desired throttle and steer. Steering passes
// through to its range unmodified; throttle is scaled by the max power
// governor before clamping, so the power limit is applied at the edge
// rather than enforced by the receiver.
func (t *Throttler) SetMovement(throttle, steer int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	scaled := throttle * t.desired.MaxPower / 100

	t.desired.Throttle = clamp(scaled, -100, 100)
	t.desired.Steer = clamp(steer, -90, 90)
}

// SetCamera updates the desired camera pan and tilt
func (t *Throttler) SetCamera(pan, tilt int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.desired.CameraPan = clamp(pan, -90, 90)
	t.desired.CameraTilt = clamp(tilt, -45, 45)
}

// SetMaxPower sets the multiplicative throttle governor, in percent
func (t *Throttler) SetMaxPower(maxPower int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.desired.MaxPower = clamp(maxPower, 0, 100)
}

// SetHorn updates the desired horn state
func (t *Throttler) SetHorn(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.desired.Horn = on
}

// SetLights updates the desired lights state
func (t *Throttler) SetLights(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.desired.Lights = on
}

// Neutral forces the desired movement to a safe stop: zero throttle,
// zero steer, zero camera, horn off. Call on loss of window focus,
// visibility change or an explicit stop, so the next tick transmits a
// stop command. A controller that silently disappears must not leave a
// robot commanded to move indefinitely.
func (t *Throttler) Neutral() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.neutral()
}

func (t *Throttler) neutral() {
	t.desired.Throttle = 0
	t.desired.Steer = 0
	t.desired.CameraPan = 0
	t.desired.CameraTilt = 0
	t.desired.Horn = false
}

// Desired returns a copy of the current desired state
func (t *Throttler) Desired() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.desired
}

// tick transmits the desired state if it differs from the last one sent
func (t *Throttler) tick() {
	t.mu.Lock()

	if t.desired == t.lastSent {
		t.mu.Unlock()
		return
	}

	cmd := Command{State: t.desired, Timestamp: t.Now()}
	t.lastSent = t.desired

	t.mu.Unlock()

	// transmit outside the lock; send may block on the transport
	t.send(cmd)
}

// Run ticks until the context is cancelled, then resets to neutral and
// flushes one final command so teardown leaves the robot stopped. The
// ticker never outlives the call.
func (t *Throttler) Run(ctx context.Context) {

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.neutral()
			cmd := Command{State: t.desired, Timestamp: t.Now()}
			t.lastSent = t.desired
			t.mu.Unlock()
			t.send(cmd)
			return
		case <-ticker.C:
			t.tick()
		}
	}
}
