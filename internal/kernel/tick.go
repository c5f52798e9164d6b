package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/audit"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/pool"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/scheduler"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/task"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

// TickReport describes what one tick did.
type TickReport struct {
	RunID      string
	Tick       uint64
	Ran        []models.ProcessID
	Skipped    map[models.ProcessID]scheduler.SkipReason
	Failed     map[models.ProcessID]string
	Terminated []models.ProcessID
	Grants     []pool.Grant
	Outcomes   []pool.Outcome
	Released   int
	StartedAt  time.Time
	Duration   time.Duration
}

// Summary converts the report to its persisted form.
func (r *TickReport) Summary() models.TickSummary {
	return models.TickSummary{
		RunID:     r.RunID,
		Tick:      r.Tick,
		Ran:       len(r.Ran),
		Skipped:   len(r.Skipped),
		Failed:    len(r.Failed),
		Tasks:     len(r.Outcomes),
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
	}
}

// Tick runs every runnable process once, then one step of every bound task, then
// re-encodes the table and saves it.
//
// A process that panics or returns an error is logged and left in the table. Its
// record stays at the last successfully encoded state, so whatever it changed during
// the failed run is discarded. Its pool changes are rolled back and the children it
// launched in that run are dropped.
func (k *Kernel) Tick(ctx context.Context, w world.World) (*TickReport, error) {
	report := &TickReport{
		RunID:     uuid.New().String(),
		Tick:      w.Time(),
		Failed:    map[models.ProcessID]string{},
		StartedAt: k.now(),
	}
	k.tick = report.Tick
	k.pool.Begin(w)

	plan := scheduler.Build(k.nodes())
	report.Skipped = plan.Skipped

	failed := map[models.ProcessID]bool{}
	for _, id := range plan.Order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		e, err := k.find(id)
		if err != nil {
			continue
		}
		pctx := &process.Context{
			Tick:   report.Tick,
			Self:   e.proc.Meta(),
			World:  w,
			Pool:   k.pool,
			Log:    k.logger,
			Kernel: k,
		}
		cp, firstChild := k.pool.Checkpoint(), k.nextID
		if err := k.run(e.proc, pctx); err != nil {
			failed[id] = true
			report.Failed[id] = err.Error()
			k.logger.Errorf("process %d (%s) failed at tick %d: %v", id, e.record.Type, report.Tick, err)
			k.record(audit.ActionCrash, e.record, "error", id, err.Error())
			k.pool.Rollback(cp)
			k.dropLaunchedSince(firstChild)
			if proc, ok := k.registry.Decode(e.record); ok {
				e.proc = proc
			}
			continue
		}
		report.Ran = append(report.Ran, id)
		if pctx.Terminated() {
			report.Terminated = append(report.Terminated, id)
		}
	}

	report.Grants = k.pool.Resolve()
	report.Outcomes = k.pool.RunTasks(task.Context{Tick: report.Tick, World: w})

	for _, id := range report.Terminated {
		if err := k.remove(id); err == nil {
			k.logger.Printf("Process %d terminated", id)
			k.record(audit.ActionTerminate, id, "ok", id, "")
		}
	}

	for _, e := range k.entries {
		if failed[e.record.ID] {
			continue
		}
		rec, err := k.encode(e.proc)
		if err != nil {
			k.logger.Errorf("process %d (%s): encode failed, keeping previous record: %v", e.record.ID, e.record.Type, err)
			continue
		}
		e.record = rec
	}

	report.Released = k.pool.ReleaseOrphans(k.isLive)
	report.Duration = k.now().Sub(report.StartedAt)

	if err := k.Save(ctx); err != nil {
		return report, fmt.Errorf("tick %d: %w", report.Tick, err)
	}
	if len(failed) > 0 {
		k.logger.Warnf("tick %d: %d process(es) failed: %v", report.Tick, len(failed), sortedIDs(failed))
	}
	return report, nil
}

func (k *Kernel) nodes() []scheduler.Node {
	nodes := make([]scheduler.Node, 0, len(k.entries))
	for _, e := range k.entries {
		nodes = append(nodes, scheduler.Node{
			ID:        e.record.ID,
			Type:      e.record.Type,
			Suspended: e.suspended,
			DependsOn: e.record.DependsOn,
		})
	}
	return nodes
}

// dropLaunchedSince removes processes launched with an ID of at least first. IDs are
// not handed out again.
func (k *Kernel) dropLaunchedSince(first models.ProcessID) {
	kept := k.entries[:0]
	for _, e := range k.entries {
		if e.proc.Meta().ID < first {
			kept = append(kept, e)
			continue
		}
		k.logger.Warnf("dropping process %d (%s) launched by a failed run", e.proc.Meta().ID, e.record.Type)
		k.record(audit.ActionKill, e.proc.Meta().ID, "rolled back", e.proc.Meta().ID, e.record.Type)
	}
	for i := len(kept); i < len(k.entries); i++ {
		k.entries[i] = nil
	}
	k.entries = kept
}
