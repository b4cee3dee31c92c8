package relay

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/roverlink/roverlink/internal/hub"
)

func (f *Frames) add(size int, connectedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := time.Now()
	if f.ns.Count() > 0 {
		f.ns.Add(float64(t.UnixNano() - f.last.UnixNano()))
	} else {
		f.ns.Add(float64(t.UnixNano() - connectedAt.UnixNano()))
	}
	f.last = t
	f.size.Add(float64(size))
}

func fpsFromNs(ns float64) float64 {
	if ns <= 0 {
		return 0
	}
	return 1 / (ns / 1e9)
}

func (f *Frames) report() ReportStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	r := ReportStats{Last: "Never"}

	if f.size.Count() > 0 {
		r.Last = fmt.Sprintf("%.2fs", time.Since(f.last).Seconds())
		r.Size = math.Round(f.size.Mean())
		r.Fps = fpsFromNs(f.ns.Mean())
	}

	return r
}

func roleName(role hub.Role) string {
	if role == hub.Uplink {
		return "uplink"
	}
	return "controller"
}

// Report returns connection-level statistics for every live client,
// ordered by robot id then connection age
func (rl *Relay) Report() []ClientReport {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	reports := []ClientReport{}

	for _, c := range rl.conns {
		reports = append(reports, ClientReport{
			RobotID:    c.member.RobotID,
			Role:       roleName(c.member.Role),
			Connected:  c.stats.connectedAt.Format(time.RFC3339Nano),
			RemoteAddr: c.remoteAddr,
			UserAgent:  c.userAgent,
			Stats: RxTx{
				Rx: c.stats.rx.report(),
				Tx: c.stats.tx.report(),
			},
		})
	}

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].RobotID != reports[j].RobotID {
			return reports[i].RobotID < reports[j].RobotID
		}
		return reports[i].Connected < reports[j].Connected
	})

	return reports
}
