package pool

import (
	"time"
)

// Status is a read-only pool metrics snapshot for dashboards and
// alerting. The pool performs no rendering.
type Status struct {
	TotalAgents         int            `json:"total_agents"`
	ByStatus            map[string]int `json:"by_status"`
	ByTier              map[string]int `json:"by_tier"`
	TotalCapacity       int            `json:"total_capacity"`
	UsedCapacity        int            `json:"used_capacity"`
	AvailableCapacity   int            `json:"available_capacity"`
	Utilization         float64        `json:"utilization"` // used / total, 0 when empty
	ActiveTasks         int            `json:"active_tasks"`
	ExhaustionsLastHour int            `json:"exhaustions_last_hour"`
	AgentsNearReset     int            `json:"agents_near_reset"`
	Counters            Counters       `json:"counters"`
}

// Status returns current pool-wide counts, the utilization ratio, the
// exhaustion rate over the trailing hour, and how many agents sit inside
// the warning window of their next reset.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	hourAgo := now.Add(-time.Hour)

	st := Status{
		TotalAgents: len(p.agents),
		ByStatus:    make(map[string]int),
		ByTier:      make(map[string]int),
		ActiveTasks: len(p.assignments),
		Counters:    p.counters,
	}

	for _, a := range p.agents {
		st.ByStatus[a.Status.String()]++
		st.ByTier[a.Tier.String()]++
		st.TotalCapacity += a.Capacity
		st.UsedCapacity += len(a.CurrentTasks)

		for _, rec := range a.History {
			if !rec.At.Before(hourAgo) {
				st.ExhaustionsLastHour++
			}
		}
		if a.ResetWindow > 0 && a.NextResetAt.Sub(now) <= resetWarningWindow {
			st.AgentsNearReset++
		}
	}

	st.AvailableCapacity = st.TotalCapacity - st.UsedCapacity
	if st.TotalCapacity > 0 {
		st.Utilization = float64(st.UsedCapacity) / float64(st.TotalCapacity)
	}
	return st
}
