package processes

import (
	"fmt"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/pool"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/task"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

type scoutState struct {
	Group    string           `json:"group"`
	Route    []world.Position `json:"route"`
	Range    int              `json:"range"`
	Priority pool.Priority    `json:"priority"`
	Agent    world.ID         `json:"agent,omitempty"`
}

// scout sends one agent along a route and exits when the trip ends.
type scout struct {
	meta  process.Meta
	state scoutState
}

var scoutType = process.Type{
	Tag:     "scout",
	Summary: "walk one agent along waypoints, then exit (route=room:x:y,... [group= range= priority=])",
	Decode: decoder(func(meta process.Meta, st scoutState) process.Process {
		return &scout{meta: meta, state: st}
	}),
	Launch: launchScout,
}

func launchScout(meta process.Meta, args process.Args) (process.Process, error) {
	if err := args.Require("route"); err != nil {
		return nil, err
	}
	route, err := parseRoute(args["route"])
	if err != nil {
		return nil, err
	}
	rng, err := args.Int("range", 0)
	if err != nil {
		return nil, err
	}
	prio, err := pool.ParsePriority(args.String("priority", "low"))
	if err != nil {
		return nil, err
	}
	return &scout{meta: meta, state: scoutState{
		Group:    args.String("group", "scouts"),
		Route:    route,
		Range:    rng,
		Priority: prio,
	}}, nil
}

func (s *scout) Meta() process.Meta { return s.meta }

func (s *scout) Encode() (models.ProcessRecord, error) { return s.meta.Record(s.state) }

func (s *scout) Run(ctx *process.Context) error {
	runner := s.meta.Runner()
	if s.state.Agent == "" {
		a, ok := ctx.Pool.Request(pool.Request{
			Group:    s.state.Group,
			Runner:   runner,
			Home:     s.meta.ID,
			Priority: s.state.Priority,
			Filter:   pool.HasParts("move"),
		})
		if !ok {
			return nil
		}
		s.state.Agent = a.ID
		return ctx.Pool.AssignTask(a.ID, task.Travel(s.state.Route, s.state.Range))
	}

	if lost := ctx.Pool.Lost(runner); len(lost) > 0 {
		ctx.Log.Warnf("scout %d: %s lost on the way", s.meta.ID, s.state.Agent)
		ctx.Terminate()
		return nil
	}
	res, ok := ctx.Pool.LastResult(s.state.Agent)
	if !ok {
		if b, bound := ctx.Pool.Binding(s.state.Agent); !bound || b.Runner != runner {
			// Taken by an urgent request; start over with another agent.
			s.state.Agent = ""
		}
		return nil
	}
	ctx.Log.Printf("scout %d: %s reached %s: %s", s.meta.ID, s.state.Agent, s.state.Route[len(s.state.Route)-1], res)
	ctx.Pool.Release(s.state.Agent)
	ctx.Terminate()
	return nil
}

func (s *scout) ShortDescription() string {
	if s.state.Agent == "" {
		return fmt.Sprintf("waiting for a %s agent", s.state.Group)
	}
	return fmt.Sprintf("%s en route to %s", s.state.Agent, s.state.Route[len(s.state.Route)-1])
}
