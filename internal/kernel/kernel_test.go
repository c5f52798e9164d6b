package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/audit"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/logging"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/pool"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/scheduler"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/task"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

// --- test processes ---

type counterState struct {
	Count   int `json:"count"`
	PanicAt int `json:"panic_at,omitempty"`
	FailAt  int `json:"fail_at,omitempty"`
	ExitAt  int `json:"exit_at,omitempty"`
	SpawnAt int `json:"spawn_at,omitempty"`
}

type counter struct {
	meta  process.Meta
	state counterState
	trace *[]models.ProcessID
}

func (c *counter) Meta() process.Meta { return c.meta }

func (c *counter) Encode() (models.ProcessRecord, error) { return c.meta.Record(c.state) }

func (c *counter) Run(ctx *process.Context) error {
	if c.trace != nil {
		*c.trace = append(*c.trace, c.meta.ID)
	}
	c.state.Count++
	switch c.state.Count {
	case c.state.PanicAt:
		panic("boom")
	case c.state.FailAt:
		return errors.New("refused")
	case c.state.ExitAt:
		ctx.Terminate()
	case c.state.SpawnAt:
		if _, err := ctx.Kernel.Launch("counter", nil, models.Dependencies{}); err != nil {
			return err
		}
	}
	return nil
}

func (c *counter) HandleMessage(text string) string {
	if text == "reset" {
		c.state.Count = 0
		return "ok"
	}
	return "unknown command"
}

func (c *counter) ShortDescription() string { return fmt.Sprintf("count=%d", c.state.Count) }

func counterType(trace *[]models.ProcessID) process.Type {
	return process.Type{
		Tag: "counter",
		Decode: func(rec models.ProcessRecord) (process.Process, error) {
			c := &counter{meta: process.MetaFromRecord(rec), trace: trace}
			if err := process.DecodeState(rec, &c.state); err != nil {
				return nil, err
			}
			return c, nil
		},
		Launch: func(meta process.Meta, args process.Args) (process.Process, error) {
			c := &counter{meta: meta, trace: trace}
			var err error
			if c.state.PanicAt, err = args.Int("panic_at", 0); err != nil {
				return nil, err
			}
			c.state.FailAt, _ = args.Int("fail_at", 0)
			c.state.ExitAt, _ = args.Int("exit_at", 0)
			c.state.SpawnAt, _ = args.Int("spawn_at", 0)
			return c, nil
		},
	}
}

// mover claims one agent and walks it back and forth forever.
type mover struct {
	meta  process.Meta
	Agent world.ID `json:"agent"`
}

func (m *mover) Meta() process.Meta { return m.meta }

func (m *mover) Encode() (models.ProcessRecord, error) { return m.meta.Record(m) }

func (m *mover) Run(ctx *process.Context) error {
	if m.Agent != "" {
		if _, ok := ctx.Pool.Binding(m.Agent); ok {
			return nil
		}
		m.Agent = ""
	}
	a, ok := ctx.Pool.Request(pool.Request{Group: "g", Runner: m.meta.Runner(), Home: m.meta.ID})
	if !ok {
		return nil
	}
	m.Agent = a.ID
	return ctx.Pool.AssignTask(a.ID, task.Loop(task.MoveTo(pos(1, 1), 0), task.MoveTo(pos(6, 4), 0)))
}

var moverType = process.Type{
	Tag: "mover",
	Decode: func(rec models.ProcessRecord) (process.Process, error) {
		m := &mover{meta: process.MetaFromRecord(rec)}
		return m, process.DecodeState(rec, m)
	},
	Launch: func(meta process.Meta, args process.Args) (process.Process, error) {
		return &mover{meta: meta}, nil
	},
}

// grabber claims an agent, queues a request and launches a child, then fails.
type grabber struct {
	meta process.Meta
}

func (g *grabber) Meta() process.Meta { return g.meta }

func (g *grabber) Encode() (models.ProcessRecord, error) { return g.meta.Record(struct{}{}) }

func (g *grabber) Run(ctx *process.Context) error {
	req := pool.Request{Group: "g", Runner: g.meta.Runner(), Home: g.meta.ID}
	if a, ok := ctx.Pool.Request(req); ok {
		if err := ctx.Pool.AssignTask(a.ID, task.Endless()); err != nil {
			return err
		}
	}
	req.Build = func(world.Agent) *task.Task { return task.Endless() }
	if err := ctx.Pool.Enqueue(req); err != nil {
		return err
	}
	if _, err := ctx.Kernel.Launch("counter", nil, models.Dependencies{}); err != nil {
		return err
	}
	return errors.New("crash after touching the pool")
}

var grabberType = process.Type{
	Tag: "grabber",
	Decode: func(rec models.ProcessRecord) (process.Process, error) {
		return &grabber{meta: process.MetaFromRecord(rec)}, nil
	},
	Launch: func(meta process.Meta, args process.Args) (process.Process, error) {
		return &grabber{meta: meta}, nil
	},
}

// --- fakes ---

type memStore struct {
	data  []byte
	saves int
}

func (m *memStore) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	if m.data == nil {
		return nil, nil
	}
	snap := &models.Snapshot{}
	return snap, json.Unmarshal(m.data, snap)
}

func (m *memStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	m.data = data
	m.saves++
	return err
}

type recordingAuditor struct {
	actions []string
}

func (r *recordingAuditor) Record(action string, inputs interface{}, outcome string, pid models.ProcessID, tick uint64, details string) (*models.Decision, error) {
	r.actions = append(r.actions, action)
	return &models.Decision{Action: action, ProcessID: pid, Tick: tick}, nil
}

func pos(x, y int) world.Position {
	return world.Position{Room: "W1N1", X: x, Y: y}
}

func newTestWorld(t *testing.T) *world.Sim {
	t.Helper()
	w := world.NewSim()
	for _, id := range []world.ID{"w2", "w1", "w3"} {
		if err := w.AddAgent(world.Agent{ID: id, Group: "g", Pos: pos(3, 3)}); err != nil {
			t.Fatal(err)
		}
	}
	return w
}

func newTestKernel(t *testing.T, trace *[]models.ProcessID, opts ...Option) *Kernel {
	t.Helper()
	k := New(append([]Option{WithLogger(logging.Discard())}, opts...)...)
	k.MustRegister(counterType(trace))
	k.MustRegister(moverType)
	return k
}

func mustLaunch(t *testing.T, k *Kernel, tag string, args process.Args, deps models.Dependencies) models.ProcessID {
	t.Helper()
	id, err := k.Launch(tag, args, deps)
	if err != nil {
		t.Fatalf("Launch(%s) failed: %v", tag, err)
	}
	return id
}

func snapshotJSON(t *testing.T, k *Kernel) []byte {
	t.Helper()
	snap, err := k.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// --- tests ---

func TestRegisterDuplicatePanics(t *testing.T) {
	k := newTestKernel(t, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate type")
		}
	}()
	k.MustRegister(moverType)
}

func TestLaunchIDsAreNeverReused(t *testing.T) {
	k := newTestKernel(t, nil)
	a := mustLaunch(t, k, "counter", nil, models.Dependencies{})
	b := mustLaunch(t, k, "counter", nil, models.Dependencies{})
	if err := k.Kill(b); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	c := mustLaunch(t, k, "counter", nil, models.Dependencies{})
	if a != 1 || b != 2 || c != 3 {
		t.Errorf("ids = %d, %d, %d; want 1, 2, 3", a, b, c)
	}

	if _, err := k.Launch("nope", nil, models.Dependencies{}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Launch(nope) = %v, want ErrUnknownType", err)
	}
	if err := k.Kill(b); !errors.Is(err, ErrProcessNotFound) {
		t.Errorf("second Kill = %v, want ErrProcessNotFound", err)
	}

	snap, _ := k.Snapshot()
	k2 := newTestKernel(t, nil)
	k2.Boot(snap)
	if d := mustLaunch(t, k2, "counter", nil, models.Dependencies{}); d != 4 {
		t.Errorf("id after boot = %d, want 4", d)
	}
}

func TestLaunchRejectsBadArgs(t *testing.T) {
	k := newTestKernel(t, nil)
	if _, err := k.Launch("counter", process.Args{"panic_at": "soon"}, models.Dependencies{}); err == nil {
		t.Fatal("expected launch error")
	}
	if len(k.List()) != 0 {
		t.Error("rejected launch must not add a process")
	}
}

func TestTickOrderAndSkips(t *testing.T) {
	var trace []models.ProcessID
	k := newTestKernel(t, &trace)
	w := newTestWorld(t)

	a := mustLaunch(t, k, "counter", nil, models.Dependencies{Processes: []models.ProcessID{3}})
	b := mustLaunch(t, k, "counter", nil, models.Dependencies{})
	c := mustLaunch(t, k, "counter", nil, models.Dependencies{})
	d := mustLaunch(t, k, "counter", nil, models.Dependencies{Processes: []models.ProcessID{99}})
	e := mustLaunch(t, k, "counter", nil, models.Dependencies{})
	if err := k.Suspend(e); err != nil {
		t.Fatal(err)
	}

	report, err := k.Tick(context.Background(), w)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if want := []models.ProcessID{b, c, a}; !reflect.DeepEqual(trace, want) {
		t.Errorf("run order = %v, want %v", trace, want)
	}
	if report.Skipped[d] != scheduler.SkipMissingDependency || report.Skipped[e] != scheduler.SkipSuspended {
		t.Errorf("Skipped = %v", report.Skipped)
	}

	if err := k.Suspend(e); !errors.Is(err, ErrAlreadySuspended) {
		t.Errorf("Suspend twice = %v", err)
	}
	if err := k.Resume(e); err != nil {
		t.Fatal(err)
	}
	if err := k.Resume(e); !errors.Is(err, ErrNotSuspended) {
		t.Errorf("Resume twice = %v", err)
	}
	trace = nil
	k.Tick(context.Background(), w)
	if len(trace) != 4 {
		t.Errorf("after resume ran %v, want 4 processes", trace)
	}
}

func TestFailureIsolation(t *testing.T) {
	var trace []models.ProcessID
	diag := &bytes.Buffer{}
	k := New(WithLogger(logging.New(nil, diag)))
	k.MustRegister(counterType(&trace))
	w := newTestWorld(t)

	crasher := mustLaunch(t, k, "counter", process.Args{"panic_at": "2"}, models.Dependencies{})
	quitter := mustLaunch(t, k, "counter", process.Args{"fail_at": "2"}, models.Dependencies{})
	steady := mustLaunch(t, k, "counter", nil, models.Dependencies{})

	for i := 0; i < 3; i++ {
		report, err := k.Tick(context.Background(), w)
		if err != nil {
			t.Fatalf("Tick %d failed: %v", i, err)
		}
		if i > 0 && (len(report.Failed) != 2 || report.Failed[crasher] == "" || report.Failed[quitter] == "") {
			t.Errorf("tick %d Failed = %v", i, report.Failed)
		}
		w.Advance()
	}

	state := func(id models.ProcessID) counterState {
		_, rec, err := k.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		var st counterState
		if err := json.Unmarshal(rec.State, &st); err != nil {
			t.Fatal(err)
		}
		return st
	}
	// Failed runs are discarded, so both stay at the state of their first tick.
	if got := state(crasher).Count; got != 1 {
		t.Errorf("crasher count = %d, want 1", got)
	}
	if got := state(quitter).Count; got != 1 {
		t.Errorf("quitter count = %d, want 1", got)
	}
	if got := state(steady).Count; got != 3 {
		t.Errorf("steady count = %d, want 3", got)
	}
	if !bytes.Contains(diag.Bytes(), []byte("panicked: boom")) {
		t.Errorf("diagnostic log missing panic: %s", diag.String())
	}
}

func TestFailedRunLeavesPoolUntouched(t *testing.T) {
	auditor := &recordingAuditor{}
	k := newTestKernel(t, nil, WithAuditor(auditor))
	k.MustRegister(grabberType)
	w := newTestWorld(t)

	crasher := mustLaunch(t, k, "grabber", nil, models.Dependencies{})
	walker := mustLaunch(t, k, "mover", nil, models.Dependencies{})

	for i := 0; i < 3; i++ {
		report, err := k.Tick(context.Background(), w)
		if err != nil {
			t.Fatalf("Tick %d failed: %v", i, err)
		}
		if report.Failed[crasher] == "" {
			t.Errorf("tick %d Failed = %v", i, report.Failed)
		}
		if len(report.Grants) != 0 {
			t.Errorf("tick %d Grants = %+v, want none", i, report.Grants)
		}
		w.Advance()
	}

	bindings := k.Pool().Bindings()
	if len(bindings) != 1 || bindings[0].AgentID != "w1" || bindings[0].Home != walker {
		t.Fatalf("bindings = %+v, want only w1 held by the mover", bindings)
	}
	procs := k.List()
	if len(procs) != 2 || procs[0].ID != crasher || procs[1].ID != walker {
		t.Errorf("processes = %+v, want the children of failed runs dropped", procs)
	}
	kills := 0
	for _, action := range auditor.actions {
		if action == audit.ActionKill {
			kills++
		}
	}
	if kills != 3 {
		t.Errorf("kill decisions = %d, want one per dropped child", kills)
	}

	id := mustLaunch(t, k, "counter", nil, models.Dependencies{})
	if id != 6 {
		t.Errorf("next launch id = %d, want 6", id)
	}
}

func TestBootDropsUnregisteredRecords(t *testing.T) {
	logger := logging.Discard()
	auditor := &recordingAuditor{}
	k := New(WithLogger(logger), WithAuditor(auditor))
	k.MustRegister(process.Type{
		Tag: "Known",
		Decode: func(rec models.ProcessRecord) (process.Process, error) {
			return &counter{meta: process.MetaFromRecord(rec)}, nil
		},
		Launch: func(meta process.Meta, args process.Args) (process.Process, error) {
			return &counter{meta: meta}, nil
		},
	})

	dropped := k.Boot(&models.Snapshot{
		NextID: 3,
		Processes: []models.ProcessRecord{
			{Type: "Unregistered", ID: 1, State: json.RawMessage(`{}`)},
			{Type: "Known", ID: 2, State: json.RawMessage(`{}`)},
		},
	})

	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	list := k.List()
	if len(list) != 1 || list[0].Type != "Known" || list[0].ID != 2 {
		t.Fatalf("List() = %+v, want only Known", list)
	}
	if n := logger.Count(logging.LevelFatal); n != 1 {
		t.Errorf("fatal count = %d, want 1", n)
	}
	if !reflect.DeepEqual(auditor.actions, []string{audit.ActionDecodeDrop}) {
		t.Errorf("audit actions = %v", auditor.actions)
	}
}

func TestBootDropsDuplicateIDs(t *testing.T) {
	k := newTestKernel(t, nil)
	dropped := k.Boot(&models.Snapshot{Processes: []models.ProcessRecord{
		{Type: "counter", ID: 5, State: json.RawMessage(`{"count":1}`)},
		{Type: "counter", ID: 5, State: json.RawMessage(`{"count":2}`)},
	}})
	if dropped != 1 || len(k.List()) != 1 {
		t.Errorf("dropped = %d, list = %+v", dropped, k.List())
	}
	if id := mustLaunch(t, k, "counter", nil, models.Dependencies{}); id != 6 {
		t.Errorf("next id = %d, want 6", id)
	}
}

// Identical tables and worlds must produce identical snapshots, whether the kernel
// stays in memory or is rebuilt from its snapshot every tick.
func TestDeterministicTicks(t *testing.T) {
	seed := newTestKernel(t, nil)
	mustLaunch(t, seed, "counter", nil, models.Dependencies{})
	mustLaunch(t, seed, "mover", nil, models.Dependencies{})
	mustLaunch(t, seed, "mover", nil, models.Dependencies{Types: []string{"counter"}})
	snap, _ := seed.Snapshot()

	hot := newTestKernel(t, nil)
	hot.Boot(snap)
	store := &memStore{}
	cold := newTestKernel(t, nil, WithStore(store))
	cold.Boot(snap)
	if err := cold.Save(context.Background()); err != nil {
		t.Fatal(err)
	}

	hotWorld, coldWorld := newTestWorld(t), newTestWorld(t)
	for i := 0; i < 12; i++ {
		if _, err := hot.Tick(context.Background(), hotWorld); err != nil {
			t.Fatalf("hot tick %d: %v", i, err)
		}

		fresh := newTestKernel(t, nil, WithStore(store))
		if err := fresh.Load(context.Background()); err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
		if _, err := fresh.Tick(context.Background(), coldWorld); err != nil {
			t.Fatalf("cold tick %d: %v", i, err)
		}

		if a, b := snapshotJSON(t, hot), snapshotJSON(t, fresh); !bytes.Equal(a, b) {
			t.Fatalf("tick %d diverged:\n%s\n%s", i, a, b)
		}
		hotWorld.Advance()
		coldWorld.Advance()
	}

	bindings := hot.Pool().Bindings()
	if len(bindings) != 2 || bindings[0].AgentID != "w1" || bindings[1].AgentID != "w2" {
		t.Errorf("bindings = %+v, want w1 and w2", bindings)
	}
	if store.saves != 13 {
		t.Errorf("saves = %d, want 13", store.saves)
	}
}

func TestKillReleasesAgents(t *testing.T) {
	k := newTestKernel(t, nil)
	w := newTestWorld(t)
	id := mustLaunch(t, k, "mover", nil, models.Dependencies{})
	k.Tick(context.Background(), w)

	if got := k.List()[0].Agents; got != 1 {
		t.Fatalf("agents = %d, want 1", got)
	}
	if err := k.Kill(id); err != nil {
		t.Fatal(err)
	}
	if n := len(k.Pool().Bindings()); n != 0 {
		t.Errorf("bindings after kill = %d, want 0", n)
	}
}

func TestTerminateAndSpawn(t *testing.T) {
	var trace []models.ProcessID
	k := newTestKernel(t, &trace)
	w := newTestWorld(t)

	parent := mustLaunch(t, k, "counter", process.Args{"spawn_at": "1", "exit_at": "2"}, models.Dependencies{})

	report, _ := k.Tick(context.Background(), w)
	if len(k.List()) != 2 {
		t.Fatalf("after spawn List() = %+v", k.List())
	}
	if !reflect.DeepEqual(report.Ran, []models.ProcessID{parent}) {
		t.Errorf("child must not run in the tick it was launched: ran %v", report.Ran)
	}

	report, _ = k.Tick(context.Background(), w)
	if !reflect.DeepEqual(report.Terminated, []models.ProcessID{parent}) {
		t.Errorf("Terminated = %v", report.Terminated)
	}
	list := k.List()
	if len(list) != 1 || list[0].ID != parent+1 {
		t.Errorf("List() = %+v, want only the child", list)
	}
}

func TestSendMessage(t *testing.T) {
	k := newTestKernel(t, nil)
	w := newTestWorld(t)
	c := mustLaunch(t, k, "counter", nil, models.Dependencies{})
	m := mustLaunch(t, k, "mover", nil, models.Dependencies{})
	k.Tick(context.Background(), w)

	if desc := k.List()[0].Description; desc != "count=1" {
		t.Errorf("Description = %q", desc)
	}
	reply, err := k.SendMessage(c, "reset")
	if err != nil || reply != "ok" {
		t.Fatalf("SendMessage = %q, %v", reply, err)
	}
	_, rec, _ := k.Get(c)
	if string(rec.State) != `{"count":0}` {
		t.Errorf("state after message = %s", rec.State)
	}

	if _, err := k.SendMessage(m, "hello"); !errors.Is(err, ErrNoMessageHandler) {
		t.Errorf("SendMessage(mover) = %v, want ErrNoMessageHandler", err)
	}
	if _, err := k.SendMessage(42, "hello"); !errors.Is(err, ErrProcessNotFound) {
		t.Errorf("SendMessage(42) = %v, want ErrProcessNotFound", err)
	}
}

func TestSuspendedStatusPersists(t *testing.T) {
	store := &memStore{}
	k := newTestKernel(t, nil, WithStore(store))
	id := mustLaunch(t, k, "counter", nil, models.Dependencies{})
	k.Suspend(id)
	if err := k.Save(context.Background()); err != nil {
		t.Fatal(err)
	}

	k2 := newTestKernel(t, nil, WithStore(store))
	if err := k2.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := k2.List()[0].Status; st != models.ProcessStatusSuspended {
		t.Errorf("status = %s, want suspended", st)
	}
}
