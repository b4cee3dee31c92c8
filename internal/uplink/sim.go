package uplink

import (
	"math"
	"math/rand"
	"sync"

	"github.com/roverlink/roverlink/internal/pilot"
	"github.com/roverlink/roverlink/internal/throttle"
)

// Sim is a simulated rover for demos and soak tests. Wire its Apply
// and Read methods into an Uplink's OnCommand and Telemetry hooks.
type Sim struct {
	mu      sync.Mutex
	state   throttle.State
	battery float64
}

func NewSim() *Sim {
	return &Sim{battery: 100}
}

// Apply accepts a command as the rover's new drive state.
func (s *Sim) Apply(state throttle.State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Read produces the next telemetry reading. Speed follows throttle,
// the battery drains a little per reading down to empty, and the
// temperature wanders above ambient.
func (s *Sim) Read() pilot.Telemetry {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.battery = math.Max(0, s.battery-0.1)

	return pilot.Telemetry{
		Speed:       math.Abs(float64(s.state.Throttle)) * 0.5,
		Battery:     s.battery,
		Temperature: 25 + rand.Float64()*5,
	}
}

// State returns the last applied drive state.
func (s *Sim) State() throttle.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
