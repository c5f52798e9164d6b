package scheduler

import (
	"container/heap"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
)

// Node is one process table entry as seen by the planner.
type Node struct {
	ID        models.ProcessID
	Type      string
	Suspended bool
	DependsOn models.Dependencies
}

// SkipReason explains why a process does not run this tick.
type SkipReason string

const (
	SkipSuspended            SkipReason = "suspended"
	SkipMissingDependency    SkipReason = "missing-dependency"
	SkipDependencyNotRunning SkipReason = "dependency-not-running"
	SkipCycle                SkipReason = "cycle"
)

// Plan is the run order for one tick.
type Plan struct {
	Order   []models.ProcessID
	Skipped map[models.ProcessID]SkipReason
}

// Runs reports whether id is in the run order.
func (p Plan) Runs(id models.ProcessID) bool {
	_, skipped := p.Skipped[id]
	return !skipped
}

type deps struct {
	explicit []int
	// groups holds one entry per required type; at least one member must run.
	groups [][]int
}

// Build orders nodes so that every process runs after the processes it depends on.
//
// A process whose dependency is absent, suspended or itself skipped is skipped, not
// failed. Among processes that are ready at the same time, table order wins, so a
// table without dependencies runs exactly in table order.
func Build(nodes []Node) Plan {
	plan := Plan{Skipped: map[models.ProcessID]SkipReason{}}

	index := make(map[models.ProcessID]int, len(nodes))
	byType := map[string][]int{}
	for i, n := range nodes {
		index[n.ID] = i
		byType[n.Type] = append(byType[n.Type], i)
	}

	blocked := make([]SkipReason, len(nodes))
	resolved := make([]deps, len(nodes))
	for i, n := range nodes {
		if n.Suspended {
			blocked[i] = SkipSuspended
		}
		for _, id := range n.DependsOn.Processes {
			j, ok := index[id]
			if !ok || j == i {
				if blocked[i] == "" && !ok {
					blocked[i] = SkipMissingDependency
				}
				continue
			}
			resolved[i].explicit = append(resolved[i].explicit, j)
		}
		for _, typ := range n.DependsOn.Types {
			var group []int
			for _, j := range byType[typ] {
				if j != i {
					group = append(group, j)
				}
			}
			if len(group) == 0 {
				if blocked[i] == "" {
					blocked[i] = SkipMissingDependency
				}
				continue
			}
			resolved[i].groups = append(resolved[i].groups, group)
		}
	}

	// Propagate until no more processes become blocked.
	for changed := true; changed; {
		changed = false
		for i := range nodes {
			if blocked[i] != "" {
				continue
			}
			if !satisfied(resolved[i], blocked) {
				blocked[i] = SkipDependencyNotRunning
				changed = true
			}
		}
	}

	indeg := make([]int, len(nodes))
	outgoing := make([][]int, len(nodes))
	for i := range nodes {
		if blocked[i] != "" {
			continue
		}
		for _, j := range runnableDeps(resolved[i], blocked) {
			outgoing[j] = append(outgoing[j], i)
			indeg[i]++
		}
	}

	ready := &intMinHeap{}
	heap.Init(ready)
	queued := make([]bool, len(nodes))
	push := func(i int) {
		if !queued[i] {
			queued[i] = true
			heap.Push(ready, i)
		}
	}
	for i := range nodes {
		if blocked[i] == "" && indeg[i] == 0 {
			push(i)
		}
	}
	done := make([]bool, len(nodes))
	for {
		for ready.Len() > 0 {
			n := heap.Pop(ready).(int)
			done[n] = true
			plan.Order = append(plan.Order, nodes[n].ID)
			for _, m := range outgoing[n] {
				indeg[m]--
				if indeg[m] == 0 {
					push(m)
				}
			}
		}
		// A type dependency waits for every member, but members stuck in a cycle
		// never finish. Release the first process whose groups each have a member done.
		next := -1
		for i := range nodes {
			if blocked[i] == "" && !queued[i] && released(resolved[i], done) {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		push(next)
	}

	for i, n := range nodes {
		switch {
		case blocked[i] != "":
			plan.Skipped[n.ID] = blocked[i]
		case !done[i]:
			plan.Skipped[n.ID] = SkipCycle
		}
	}
	return plan
}

func satisfied(d deps, blocked []SkipReason) bool {
	for _, j := range d.explicit {
		if blocked[j] != "" {
			return false
		}
	}
	for _, group := range d.groups {
		ok := false
		for _, j := range group {
			if blocked[j] == "" {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// released reports whether every explicit dependency is done and every type group
// has at least one member done.
func released(d deps, done []bool) bool {
	for _, j := range d.explicit {
		if !done[j] {
			return false
		}
	}
	for _, group := range d.groups {
		ok := false
		for _, j := range group {
			if done[j] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func runnableDeps(d deps, blocked []SkipReason) []int {
	seen := map[int]bool{}
	var out []int
	add := func(j int) {
		if blocked[j] == "" && !seen[j] {
			seen[j] = true
			out = append(out, j)
		}
	}
	for _, j := range d.explicit {
		add(j)
	}
	for _, group := range d.groups {
		for _, j := range group {
			add(j)
		}
	}
	return out
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
