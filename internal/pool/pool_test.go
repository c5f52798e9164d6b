package pool

import (
	"errors"
	"testing"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/logging"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/task"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

func pos(x, y int) world.Position {
	return world.Position{Room: "W1N1", X: x, Y: y}
}

func newTestPool(t *testing.T, agents ...world.Agent) (*Pool, *world.Sim) {
	t.Helper()
	w := world.NewSim()
	for _, a := range agents {
		if err := w.AddAgent(a); err != nil {
			t.Fatal(err)
		}
	}
	p := New(task.NewCodec(logging.Discard()), logging.Discard())
	p.Begin(w)
	return p, w
}

func hauler(id string, body ...string) world.Agent {
	return world.Agent{ID: world.ID(id), Group: "haulers", Pos: pos(1, 1), Body: body, Capacity: 50}
}

func TestRequestStableOrderAndFilter(t *testing.T) {
	p, _ := newTestPool(t, hauler("c", "carry"), hauler("a", "move"), hauler("b", "carry"))

	a, ok := p.Request(Request{Group: "haulers", Runner: "r1", Home: 1, Filter: HasParts("carry")})
	if !ok || a.ID != "b" {
		t.Fatalf("first Request() = %v, %v; want b", a.ID, ok)
	}
	a, ok = p.Request(Request{Group: "haulers", Runner: "r1", Home: 1, Filter: HasParts("carry")})
	if !ok || a.ID != "c" {
		t.Fatalf("second Request() = %v, %v; want c", a.ID, ok)
	}
	if _, ok := p.Request(Request{Group: "haulers", Runner: "r2", Home: 2, Filter: HasParts("carry")}); ok {
		t.Fatal("expected no eligible agent left")
	}
}

func TestDeferredPriority(t *testing.T) {
	p, _ := newTestPool(t, hauler("only", "carry"))

	build := func(world.Agent) *task.Task { return task.Endless() }
	if err := p.Enqueue(Request{Group: "haulers", Runner: "low", Home: 1, Priority: PriorityLow, Build: build}); err != nil {
		t.Fatal(err)
	}
	if err := p.Enqueue(Request{Group: "haulers", Runner: "high", Home: 2, Priority: PriorityHigh, Build: build}); err != nil {
		t.Fatal(err)
	}

	grants := p.Resolve()
	if len(grants) != 1 || grants[0].Runner != "high" {
		t.Fatalf("grants = %+v, want one grant to high", grants)
	}
	b, ok := p.Binding("only")
	if !ok || b.Runner != "high" || b.Task == nil {
		t.Errorf("binding = %+v", b)
	}
}

func TestDeferredTieBySubmissionOrder(t *testing.T) {
	p, _ := newTestPool(t, hauler("only"))
	build := func(world.Agent) *task.Task { return nil }
	p.Enqueue(Request{Group: "haulers", Runner: "first", Priority: PriorityMedium, Build: build})
	p.Enqueue(Request{Group: "haulers", Runner: "second", Priority: PriorityMedium, Build: build})

	grants := p.Resolve()
	if len(grants) != 1 || grants[0].Runner != "first" {
		t.Fatalf("grants = %+v, want first", grants)
	}
}

func TestEnqueueRequiresBuild(t *testing.T) {
	p, _ := newTestPool(t)
	if err := p.Enqueue(Request{Runner: "r"}); err == nil {
		t.Error("expected error without build func")
	}
}

func TestAssignTaskOverwrites(t *testing.T) {
	p, _ := newTestPool(t, hauler("a"))

	if err := p.AssignTask("a", task.Endless()); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("AssignTask before claim = %v, want ErrNotClaimed", err)
	}
	if _, ok := p.Request(Request{Group: "haulers", Runner: "r", Home: 1}); !ok {
		t.Fatal("Request failed")
	}

	first := task.Endless()
	second := task.MoveTo(pos(3, 3), 0)
	p.AssignTask("a", first)
	p.AssignTask("a", second)

	b, _ := p.Binding("a")
	if b.Task != second {
		t.Error("second assignment should replace the first")
	}
	if n := len(p.Bindings()); n != 1 {
		t.Errorf("len(Bindings()) = %d, want 1", n)
	}
}

func TestEnumerateIdleAndCount(t *testing.T) {
	p, _ := newTestPool(t, hauler("a", "carry"), hauler("b", "carry"), hauler("c"))
	p.Request(Request{Group: "haulers", Runner: "r", Home: 1})
	p.Request(Request{Group: "haulers", Runner: "r", Home: 1})
	p.AssignTask("a", task.Endless())

	idle := p.EnumerateIdle("haulers", "r")
	if len(idle) != 1 || idle[0].ID != "b" {
		t.Errorf("EnumerateIdle() = %+v, want [b]", idle)
	}
	if n := p.Count("haulers", HasParts("carry")); n != 2 {
		t.Errorf("Count(carry) = %d, want 2", n)
	}
	if n := p.Count("haulers", nil); n != 3 {
		t.Errorf("Count(nil) = %d, want 3", n)
	}
}

func TestUrgentReclaimsIdleAgents(t *testing.T) {
	p, _ := newTestPool(t, hauler("a"))
	p.Request(Request{Group: "haulers", Runner: "low", Home: 1, Priority: PriorityLow})

	if _, ok := p.Request(Request{Group: "haulers", Runner: "high", Home: 2, Priority: PriorityHigh}); ok {
		t.Fatal("high priority must not reclaim")
	}
	a, ok := p.Request(Request{Group: "haulers", Runner: "urgent", Home: 3, Priority: PriorityUrgent})
	if !ok || a.ID != "a" {
		t.Fatalf("urgent Request() = %v, %v", a.ID, ok)
	}
	if b, _ := p.Binding("a"); b.Runner != "urgent" {
		t.Errorf("runner = %s, want urgent", b.Runner)
	}
}

func TestRunTasks(t *testing.T) {
	p, w := newTestPool(t, hauler("a"), hauler("b"))
	p.Request(Request{Group: "haulers", Runner: "r", Home: 1})
	p.Request(Request{Group: "haulers", Runner: "r", Home: 1})
	p.AssignTask("a", task.MoveTo(pos(1, 1), 0))
	p.AssignTask("b", task.Endless())

	outcomes := p.RunTasks(task.Context{World: w})
	if len(outcomes) != 2 || outcomes[0].AgentID != "a" || outcomes[0].Result.Status != task.StatusFinished {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if b, _ := p.Binding("a"); !b.Idle() {
		t.Error("finished task should leave the agent idle")
	}
	if res, ok := p.LastResult("a"); !ok || res.Status != task.StatusFinished {
		t.Errorf("LastResult() = %v, %v", res, ok)
	}

	w.RemoveAgent("b")
	outcomes = p.RunTasks(task.Context{World: w})
	if len(outcomes) != 1 || outcomes[0].Result.Reason != task.ReasonAgentGone {
		t.Fatalf("outcomes after death = %+v", outcomes)
	}
	if b, ok := p.Binding("b"); !ok || !b.Idle() {
		t.Error("dead agent should stay bound and idle until the next tick")
	}

	// The owner only runs after the next Begin, so the loss must still be there.
	w.Advance()
	p.Begin(w)
	if _, ok := p.Binding("b"); ok {
		t.Error("dead agent should lose its binding")
	}
	if lost := p.Lost("r"); len(lost) != 1 || lost[0].AgentID != "b" || lost[0].Result.Reason != task.ReasonAgentGone {
		t.Errorf("Lost() = %+v", lost)
	}
}

func TestRequestReturnsOwnIdleAgent(t *testing.T) {
	p, _ := newTestPool(t, hauler("a"))

	if a, ok := p.Request(Request{Group: "haulers", Runner: "r", Home: 1}); !ok || a.ID != "a" {
		t.Fatalf("first Request() = %v, %v", a.ID, ok)
	}
	a, ok := p.Request(Request{Group: "haulers", Runner: "r", Home: 1})
	if !ok || a.ID != "a" {
		t.Fatalf("second Request() = %q, %v; want the runner's idle agent", a.ID, ok)
	}
	if _, ok := p.Request(Request{Group: "haulers", Runner: "other", Home: 2}); ok {
		t.Error("another runner must not take the agent")
	}

	p.AssignTask("a", task.Endless())
	if _, ok := p.Request(Request{Group: "haulers", Runner: "r", Home: 1}); ok {
		t.Error("an agent with a task is not eligible")
	}
}

func TestRequestPrefersUnownedAgents(t *testing.T) {
	p, _ := newTestPool(t, hauler("a"), hauler("b"))
	p.Request(Request{Group: "haulers", Runner: "r", Home: 1})

	a, ok := p.Request(Request{Group: "haulers", Runner: "r", Home: 1})
	if !ok || a.ID != "b" {
		t.Fatalf("Request() = %v, %v; want the unowned agent b", a.ID, ok)
	}
}

func TestCheckpointRollback(t *testing.T) {
	p, w := newTestPool(t, hauler("a"), hauler("b"), hauler("c"))
	p.Request(Request{Group: "haulers", Runner: "keep", Home: 1})
	p.AssignTask("a", task.MoveTo(pos(1, 1), 0))
	p.RunTasks(task.Context{World: w})

	cp := p.Checkpoint()
	p.Request(Request{Group: "haulers", Runner: "crash", Home: 2})
	p.Enqueue(Request{Group: "haulers", Runner: "crash", Home: 2, Build: func(world.Agent) *task.Task { return task.Endless() }})
	p.AssignTask("a", task.Endless())
	p.ClearLast("a")
	p.Rollback(cp)

	if grants := p.Resolve(); len(grants) != 0 {
		t.Errorf("Resolve() after rollback = %+v", grants)
	}
	bindings := p.Bindings()
	if len(bindings) != 1 || bindings[0].AgentID != "a" || bindings[0].Runner != "keep" {
		t.Fatalf("bindings after rollback = %+v", bindings)
	}
	if !bindings[0].Idle() {
		t.Error("task assigned after the checkpoint should be undone")
	}
	if res, ok := p.LastResult("a"); !ok || res.Status != task.StatusFinished {
		t.Errorf("LastResult() = %v, %v; want the finished result back", res, ok)
	}
}

func TestBeginDropsDeadAgents(t *testing.T) {
	p, w := newTestPool(t, hauler("a"))
	p.Request(Request{Group: "haulers", Runner: "r", Home: 1})
	w.RemoveAgent("a")
	w.Advance()

	p.Begin(w)
	if len(p.Bindings()) != 0 {
		t.Error("binding of dead agent should be dropped")
	}
	if lost := p.Lost("r"); len(lost) != 1 {
		t.Errorf("Lost() = %+v", lost)
	}
}

func TestReleaseOrphans(t *testing.T) {
	p, _ := newTestPool(t, hauler("a"), hauler("b"))
	p.Request(Request{Group: "haulers", Runner: "one", Home: 1})
	p.Request(Request{Group: "haulers", Runner: "two", Home: 2})

	n := p.ReleaseOrphans(func(id models.ProcessID) bool { return id == 2 })
	if n != 1 {
		t.Fatalf("ReleaseOrphans() = %d, want 1", n)
	}
	if _, ok := p.Binding("a"); ok {
		t.Error("orphaned binding should be released")
	}
}

func TestSnapshotRestore(t *testing.T) {
	p, w := newTestPool(t, hauler("a"), hauler("b"))
	p.Request(Request{Group: "haulers", Runner: "r", Home: 7, Priority: PriorityHigh})
	p.Request(Request{Group: "haulers", Runner: "r", Home: 7})
	p.AssignTask("a", task.Travel([]world.Position{pos(4, 4), pos(8, 8)}, 0))
	p.RunTasks(task.Context{World: w})

	snap, err := p.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	q := New(task.NewCodec(logging.Discard()), logging.Discard())
	q.Restore(snap)
	q.Begin(w)

	again, err := q.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot after restore failed: %v", err)
	}
	if len(again) != 2 || string(again[0].Task) != string(snap[0].Task) || again[0].Priority != "high" {
		t.Errorf("restored snapshot = %+v", again)
	}
	if b, _ := q.Binding("a"); b.Task.Sequence.Index != 0 || b.Task.Phase != task.PhaseRunning {
		t.Errorf("restored task = %+v", b.Task)
	}
}

func TestRestoreDropsUndecodableTask(t *testing.T) {
	logger := logging.Discard()
	p := New(task.NewCodec(logger), logger)
	p.Restore([]models.AgentBinding{{AgentID: "a", Runner: "r", HomeProcess: 1, Priority: "low", Task: []byte(`{"kind":"warp"}`)}})

	b, ok := p.Binding("a")
	if !ok || !b.Idle() {
		t.Fatalf("binding = %+v, %v; want idle binding", b, ok)
	}
	if logger.Count(logging.LevelFatal) != 1 {
		t.Errorf("fatal count = %d, want 1", logger.Count(logging.LevelFatal))
	}
}

func TestPriorityText(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent} {
		got, err := ParsePriority(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePriority(%s) = %v, %v", p, got, err)
		}
	}
	if _, err := ParsePriority("whenever"); err == nil {
		t.Error("expected error for unknown priority")
	}
}
