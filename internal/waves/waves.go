package waves

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/aristath/agentplane/internal/task"
)

// Wave is one topological layer of a task collection: every task in wave k
// has its whole blocker set satisfied by waves strictly before k. The
// trailing wave of an analysis may be flagged Blocked, holding the tasks
// whose blockers can never be satisfied (cycle or missing reference).
type Wave struct {
	TaskIDs []string          // sorted for deterministic output
	Blocked bool              // true only on the trailing unresolvable wave
	Reasons map[string]string // task id → why it is unresolvable (blocked wave only)
}

// Analyze partitions tasks into ordered waves.
//
// A blocker id counts as satisfied when it was placed in an earlier wave,
// when it appears in the done set, or when the referenced task is present
// in the input with status DONE (such tasks are treated as already
// satisfied and are not placed in any wave). Remaining tasks whose
// blockers cannot be satisfied form a final Blocked wave with a per-task
// reason: a named missing dependency, or a dependency cycle.
func Analyze(tasks []task.Task, done map[string]struct{}) []Wave {
	index := make(map[string]task.Task, len(tasks))
	satisfied := make(map[string]struct{}, len(done)+len(tasks))
	for id := range done {
		satisfied[id] = struct{}{}
	}

	remaining := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		index[t.ID] = t
		if t.Status == task.StatusDone {
			satisfied[t.ID] = struct{}{}
			continue
		}
		remaining[t.ID] = struct{}{}
	}

	var out []Wave
	for len(remaining) > 0 {
		var ready []string
		for id := range remaining {
			if blockersSatisfied(index[id], satisfied) {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			break
		}

		sort.Strings(ready)
		out = append(out, Wave{TaskIDs: ready})
		for _, id := range ready {
			satisfied[id] = struct{}{}
			delete(remaining, id)
		}
	}

	if len(remaining) > 0 {
		blocked := Wave{Blocked: true, Reasons: make(map[string]string, len(remaining))}
		for id := range remaining {
			blocked.TaskIDs = append(blocked.TaskIDs, id)
			blocked.Reasons[id] = blockReason(index[id], index, satisfied)
		}
		sort.Strings(blocked.TaskIDs)
		out = append(out, blocked)
	}

	return out
}

// blockersSatisfied reports whether every blocker of t is in the satisfied set.
func blockersSatisfied(t task.Task, satisfied map[string]struct{}) bool {
	for _, dep := range t.BlockedBy {
		if _, ok := satisfied[dep]; !ok {
			return false
		}
	}
	return true
}

// blockReason explains why a task landed in the blocked wave. A blocker id
// that is neither satisfied nor present in the collection is a missing
// reference; otherwise the task sits on a dependency cycle (possibly
// downstream of one).
func blockReason(t task.Task, index map[string]task.Task, satisfied map[string]struct{}) string {
	for _, dep := range t.BlockedBy {
		if _, ok := satisfied[dep]; ok {
			continue
		}
		if _, ok := index[dep]; !ok {
			return fmt.Sprintf("missing dependency %q", dep)
		}
	}
	return "dependency cycle"
}

// Acyclic checks that the blocking graph over the collection is free of
// dependency cycles. Blockers outside the collection count as satisfied,
// matching the scheduler's treatment of missing ids, so a forward
// reference to a not-yet-added task is not an error.
func Acyclic(tasks []task.Task) error {
	index := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		index[t.ID] = struct{}{}
	}

	external := make(map[string]struct{})
	for _, t := range tasks {
		for _, dep := range t.BlockedBy {
			if _, ok := index[dep]; !ok {
				external[dep] = struct{}{}
			}
		}
	}

	_, err := Validate(tasks, external)
	return err
}

// Validate checks that every blocker references a task in the collection
// and that the blocking graph is acyclic, returning a full topological
// order of the task ids. Blockers satisfied by the done set are exempt
// from the existence check.
func Validate(tasks []task.Task, done map[string]struct{}) ([]string, error) {
	index := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		index[t.ID] = struct{}{}
	}

	for _, t := range tasks {
		for _, dep := range t.BlockedBy {
			if _, ok := index[dep]; ok {
				continue
			}
			if _, ok := done[dep]; ok {
				continue
			}
			return nil, fmt.Errorf("task %q is blocked by non-existent task %q", t.ID, dep)
		}
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		placed := false
		for _, dep := range t.BlockedBy {
			if _, ok := index[dep]; !ok {
				continue // satisfied externally, no edge to draw
			}
			edges = append(edges, toposort.Edge{dep, t.ID})
			placed = true
		}
		if !placed {
			// No in-collection blockers; anchor the node so it appears in the order.
			edges = append(edges, toposort.Edge{nil, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(tasks) {
		var missing []string
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for _, t := range tasks {
			if !found[t.ID] {
				missing = append(missing, t.ID)
			}
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}
