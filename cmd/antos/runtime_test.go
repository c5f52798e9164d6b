package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/config"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/lock"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
)

const testScenario = `
agents:
  - id: hauler-1
    group: haulers
    pos: {room: W1N1, x: 1, y: 1}
    body: [carry, move]
    capacity: 50
objects:
  - id: box
    kind: container
    pos: {room: W1N1, x: 6, y: 6}
    amount: 80
    capacity: 100
  - id: store
    kind: container
    pos: {room: W1N1, x: 1, y: 3}
    capacity: 500
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	scenario := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(scenario, []byte(testScenario), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.World = scenario
	cfg.Bootstrap = []config.LaunchSpec{
		{Type: "haul", Args: map[string]string{"source": "box", "destination": "store"}},
		{Type: "monitor", Args: map[string]string{"group": "haulers", "interval": "2"}, After: []string{"haul"}},
	}
	return cfg
}

func open(t *testing.T, cfg *config.Config, mutating bool) *runtime {
	t.Helper()
	rt, err := openRuntimeWith(context.Background(), cfg, mutating, io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("openRuntimeWith() error = %v", err)
	}
	return rt
}

func initialized(t *testing.T) *config.Config {
	t.Helper()
	cfg := testConfig(t)
	rt := open(t, cfg, true)
	defer rt.Close()
	if err := initialize(context.Background(), rt, false, io.Discard); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}
	return cfg
}

func TestInitLaunchesBootstrap(t *testing.T) {
	cfg := testConfig(t)
	rt := open(t, cfg, true)

	var out bytes.Buffer
	if err := initialize(context.Background(), rt, false, &out); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}
	for _, want := range []string{"Launched haul 1", "Launched monitor 2", "1 agents, 2 objects, 2 processes"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
	if err := initialize(context.Background(), rt, false, io.Discard); err == nil {
		t.Error("second initialize without force should fail")
	}
	rt.Close()

	rt = open(t, cfg, false)
	defer rt.Close()
	procs := rt.List()
	if len(procs) != 2 || procs[0].Type != "haul" || procs[1].Type != "monitor" {
		t.Fatalf("processes after reopen = %+v", procs)
	}
	if got := procs[1].DependsOn.Types; len(got) != 1 || got[0] != "haul" {
		t.Errorf("monitor depends on %v, want [haul]", got)
	}
	if _, ok := rt.world.Agent("hauler-1"); !ok {
		t.Error("world should be loaded from the saved state")
	}
}

func TestMutatingRuntimeHoldsLock(t *testing.T) {
	cfg := testConfig(t)
	rt := open(t, cfg, true)

	_, err := openRuntimeWith(context.Background(), cfg, true, io.Discard, io.Discard)
	if !errors.Is(err, lock.ErrLocked) {
		t.Fatalf("second mutating open error = %v, want ErrLocked", err)
	}
	ro := open(t, cfg, false)
	ro.Close()

	rt.Close()
	rt = open(t, cfg, true)
	rt.Close()
}

func TestTicksSurviveReopen(t *testing.T) {
	ctx := context.Background()
	const ticks = 15

	// One invocation per tick, as `antos tick` is normally used.
	reopened := initialized(t)
	for i := 0; i < ticks; i++ {
		rt := open(t, reopened, true)
		if _, err := rt.Tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		rt.Close()
	}

	// One long-lived runtime that only reboots the kernel.
	continuous := initialized(t)
	rt := open(t, continuous, true)
	for i := 0; i < ticks; i++ {
		if _, err := rt.step(ctx, i > 0); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	rt.Close()

	a, b := open(t, reopened, false), open(t, continuous, false)
	defer a.Close()
	defer b.Close()

	if a.Time() != ticks || b.Time() != ticks {
		t.Fatalf("world time = %d and %d, want %d", a.Time(), b.Time(), ticks)
	}
	wa, _ := json.Marshal(a.world)
	wb, _ := json.Marshal(b.world)
	if !bytes.Equal(wa, wb) {
		t.Errorf("worlds diverged:\n%s\n%s", wa, wb)
	}
	sa, _ := a.kernel.Snapshot()
	sb, _ := b.kernel.Snapshot()
	ja, _ := json.Marshal(sa)
	jb, _ := json.Marshal(sb)
	if !bytes.Equal(ja, jb) {
		t.Errorf("snapshots diverged:\n%s\n%s", ja, jb)
	}
	if len(a.Bindings()) != 1 {
		t.Errorf("bindings = %d, want the hauler bound", len(a.Bindings()))
	}

	history, err := a.store.ListTicks(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != ticks || history[0].Tick != ticks-1 {
		t.Errorf("history = %d entries, latest tick %d", len(history), history[0].Tick)
	}
}

func TestMutationsArePersisted(t *testing.T) {
	cfg := initialized(t)
	ctx := context.Background()

	rt := open(t, cfg, true)
	if err := rt.Suspend(2); err != nil {
		t.Fatal(err)
	}
	reply, err := rt.SendMessage(1, "workers 0")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "workers set to 0" {
		t.Errorf("reply = %q", reply)
	}
	id, err := rt.Launch("scout", map[string]string{"route": "W1N1:3:3"}, models.Dependencies{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Launch("nope", nil, models.Dependencies{}); err == nil {
		t.Error("launching an unknown type should fail")
	}
	rt.Close()

	rt = open(t, cfg, true)
	defer rt.Close()
	info, rec, err := rt.Get(2)
	if err != nil || info.Status != models.ProcessStatusSuspended {
		t.Fatalf("process 2 = %+v, %v; want suspended", info, err)
	}
	if !strings.Contains(string(rec.State), `"interval":2`) {
		t.Errorf("monitor state = %s", rec.State)
	}
	_, rec, _ = rt.Get(1)
	if !strings.Contains(string(rec.State), `"workers":0`) {
		t.Errorf("haul state = %s", rec.State)
	}
	if id != 3 {
		t.Errorf("scout id = %d, want 3", id)
	}

	if err := rt.Kill(id); err != nil {
		t.Fatal(err)
	}
	decisions, err := rt.store.ListDecisions(ctx, id, 10)
	if err != nil {
		t.Fatal(err)
	}
	var actions []string
	for _, d := range decisions {
		actions = append(actions, d.Action)
	}
	if len(actions) != 2 {
		t.Errorf("decisions for %d = %v, want launch and kill", id, actions)
	}
}

func TestFormatDeps(t *testing.T) {
	tests := []struct {
		deps models.Dependencies
		want string
	}{
		{models.Dependencies{}, "-"},
		{models.Dependencies{Processes: []models.ProcessID{1, 4}}, "1,4"},
		{models.Dependencies{Processes: []models.ProcessID{2}, Types: []string{"haul"}}, "2,type:haul"},
	}
	for _, tt := range tests {
		if got := formatDeps(tt.deps); got != tt.want {
			t.Errorf("formatDeps(%+v) = %q, want %q", tt.deps, got, tt.want)
		}
	}
}

func TestPrintProcessShowsOwnedAgents(t *testing.T) {
	cfg := initialized(t)
	rt := open(t, cfg, true)
	defer rt.Close()
	for i := 0; i < 3; i++ {
		if _, err := rt.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	info, rec, err := rt.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	printProcess(&out, info, rec, rt.Bindings())
	for _, want := range []string{"Type:        haul", `"source": "box"`, "hauler-1", "AGENT"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	printProcesses(&out, rt.List())
	if !strings.Contains(out.String(), "type:haul") {
		t.Errorf("ps output should show the monitor's type dependency:\n%s", out.String())
	}
}
