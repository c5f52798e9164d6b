package processes

import (
	"fmt"
	"strconv"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/pool"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/task"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

type haulState struct {
	Group       string        `json:"group"`
	Source      world.ID      `json:"source"`
	Destination world.ID      `json:"destination"`
	Workers     int           `json:"workers"`
	Priority    pool.Priority `json:"priority"`
	Trips       int           `json:"trips"`
	Failures    int           `json:"failures"`
}

// haul keeps Workers carriers shuttling between two containers. Each agent gets one
// trip at a time; a finished trip is counted and the agent is sent out again.
type haul struct {
	meta  process.Meta
	state haulState
}

var haulType = process.Type{
	Tag:     "haul",
	Summary: "carry resources from source to destination (source= destination= [group= workers= priority=])",
	Decode: decoder(func(meta process.Meta, st haulState) process.Process {
		return &haul{meta: meta, state: st}
	}),
	Launch: launchHaul,
}

func launchHaul(meta process.Meta, args process.Args) (process.Process, error) {
	if err := args.Require("source", "destination"); err != nil {
		return nil, err
	}
	workers, err := positive(args, "workers", 1)
	if err != nil {
		return nil, err
	}
	prio, err := pool.ParsePriority(args.String("priority", ""))
	if err != nil {
		return nil, err
	}
	return &haul{meta: meta, state: haulState{
		Group:       args.String("group", "haulers"),
		Source:      world.ID(args["source"]),
		Destination: world.ID(args["destination"]),
		Workers:     workers,
		Priority:    prio,
	}}, nil
}

func (h *haul) Meta() process.Meta { return h.meta }

func (h *haul) Encode() (models.ProcessRecord, error) { return h.meta.Record(h.state) }

func (h *haul) Run(ctx *process.Context) error {
	runner := h.meta.Runner()
	for _, o := range ctx.Pool.Lost(runner) {
		ctx.Log.Warnf("haul %d: lost %s: %s", h.meta.ID, o.AgentID, o.Result)
	}

	owned := ctx.Pool.Owned(runner)
	for len(owned) > h.state.Workers {
		extra := owned[len(owned)-1]
		ctx.Pool.Release(extra.AgentID)
		owned = owned[:len(owned)-1]
	}

	for _, b := range owned {
		if !b.Idle() {
			continue
		}
		if res, ok := ctx.Pool.LastResult(b.AgentID); ok {
			if res.Status == task.StatusFinished {
				h.state.Trips++
			} else {
				h.state.Failures++
				ctx.Log.Infof("haul %d: trip of %s %s", h.meta.ID, b.AgentID, res)
			}
			ctx.Pool.ClearLast(b.AgentID)
		}
		if err := ctx.Pool.AssignTask(b.AgentID, h.trip()); err != nil {
			return err
		}
	}

	for i := len(owned); i < h.state.Workers; i++ {
		err := ctx.Pool.Enqueue(pool.Request{
			Group:    h.state.Group,
			Runner:   runner,
			Home:     h.meta.ID,
			Priority: h.state.Priority,
			Filter:   pool.HasParts("carry"),
			Build:    func(world.Agent) *task.Task { return h.trip() },
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *haul) trip() *task.Task {
	return task.Steps(
		task.MoveToObject(h.state.Source, 1),
		task.Do(world.VerbWithdraw, h.state.Source),
		task.MoveToObject(h.state.Destination, 1),
		task.Do(world.VerbTransfer, h.state.Destination),
	)
}

func (h *haul) HandleMessage(text string) string {
	verb, args := command(text)
	switch verb {
	case "workers":
		if len(args) != 1 {
			return "usage: workers <n>"
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Sprintf("invalid worker count %q", args[0])
		}
		h.state.Workers = n
		return fmt.Sprintf("workers set to %d", n)
	case "status":
		return h.ShortDescription()
	}
	return fmt.Sprintf("unknown command %q (workers <n> | status)", verb)
}

func (h *haul) ShortDescription() string {
	return fmt.Sprintf("%s -> %s, %d workers, %d trips, %d failed",
		h.state.Source, h.state.Destination, h.state.Workers, h.state.Trips, h.state.Failures)
}
