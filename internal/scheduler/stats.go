package scheduler

// TierFairness summarizes how evenly completed work is spread across the
// agents of one tier.
type TierFairness struct {
	Agents   int     `json:"agents"`
	Mean     float64 `json:"mean_tasks_completed"`
	Variance float64 `json:"variance"`
}

// Stats is the scheduler's read-only metrics snapshot.
type Stats struct {
	Counters Counters                `json:"counters"`
	Tracked  int                     `json:"tracked_tasks"`
	Fairness map[string]TierFairness `json:"fairness_by_tier"`
}

// Stats returns decision counters and per-tier fairness metrics (mean
// and variance of tasks_completed across each tier's agents).
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	counters := s.counters
	tracked := len(s.tracked)
	s.mu.Unlock()

	// Pool reads happen outside s.mu; the pool lock linearizes them.
	completedByTier := make(map[string][]int)
	for _, a := range s.pool.List() {
		tier := a.Tier.String()
		completedByTier[tier] = append(completedByTier[tier], a.TasksCompleted)
	}

	fairness := make(map[string]TierFairness, len(completedByTier))
	for tier, counts := range completedByTier {
		var sum float64
		for _, n := range counts {
			sum += float64(n)
		}
		mean := sum / float64(len(counts))
		var variance float64
		for _, n := range counts {
			d := float64(n) - mean
			variance += d * d
		}
		variance /= float64(len(counts))
		fairness[tier] = TierFairness{Agents: len(counts), Mean: mean, Variance: variance}
	}

	return Stats{Counters: counters, Tracked: tracked, Fairness: fairness}
}
