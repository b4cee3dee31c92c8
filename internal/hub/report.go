package hub

import (
	"sort"
	"time"
)

// RoomReport represents the externally-reported state of one room
type RoomReport struct {
	RobotID string `json:"robotId"`

	Online bool `json:"online"`

	// LastTelemetryAt is RFC3339, empty if no telemetry seen
	LastTelemetryAt string `json:"lastTelemetryAt,omitempty"`

	Controllers int `json:"controllers"`

	Uplinks int `json:"uplinks"`
}

// Report returns the current state of every room, ordered by robot id
func (h *Hub) Report() []RoomReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.Now()

	reports := []RoomReport{}

	for robotID, rm := range h.rooms {

		r := RoomReport{
			RobotID: robotID,
			Online:  !rm.lastTelemetryAt.IsZero() && now.Sub(rm.lastTelemetryAt) <= OnlineWindow,
		}

		if !rm.lastTelemetryAt.IsZero() {
			r.LastTelemetryAt = rm.lastTelemetryAt.Format(time.RFC3339Nano)
		}

		for client := range rm.clients {
			switch client.Role {
			case Controller:
				r.Controllers++
			case Uplink:
				r.Uplinks++
			}
		}

		reports = append(reports, r)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].RobotID < reports[j].RobotID
	})

	return reports
}
