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

type sentryState struct {
	Group    string         `json:"group"`
	Post     world.Position `json:"post"`
	Count    int            `json:"count"`
	Radius   int            `json:"radius"`
	Distance int            `json:"distance"`
	Priority pool.Priority  `json:"priority"`
	// Moved is set when the post changed and agents still walk to the old one.
	Moved bool `json:"moved,omitempty"`
}

// sentry parks agents on a post and keeps them out of reach of hostiles.
type sentry struct {
	meta  process.Meta
	state sentryState
}

var sentryType = process.Type{
	Tag:     "sentry",
	Summary: "hold a post, fleeing hostiles (post=room:x:y [group= count= radius= distance= priority=])",
	Decode: decoder(func(meta process.Meta, st sentryState) process.Process {
		return &sentry{meta: meta, state: st}
	}),
	Launch: launchSentry,
}

func launchSentry(meta process.Meta, args process.Args) (process.Process, error) {
	if err := args.Require("post"); err != nil {
		return nil, err
	}
	post, err := parsePosition(args["post"])
	if err != nil {
		return nil, err
	}
	st := sentryState{Group: args.String("group", "guards"), Post: post}
	if st.Count, err = positive(args, "count", 1); err != nil {
		return nil, err
	}
	if st.Radius, err = positive(args, "radius", 5); err != nil {
		return nil, err
	}
	if st.Distance, err = positive(args, "distance", st.Radius+1); err != nil {
		return nil, err
	}
	if st.Priority, err = pool.ParsePriority(args.String("priority", "high")); err != nil {
		return nil, err
	}
	return &sentry{meta: meta, state: st}, nil
}

func (s *sentry) Meta() process.Meta { return s.meta }

func (s *sentry) Encode() (models.ProcessRecord, error) { return s.meta.Record(s.state) }

func (s *sentry) Run(ctx *process.Context) error {
	runner := s.meta.Runner()
	for _, o := range ctx.Pool.Lost(runner) {
		ctx.Log.Warnf("sentry %d: lost %s: %s", s.meta.ID, o.AgentID, o.Result)
	}

	owned := ctx.Pool.Owned(runner)
	for _, b := range owned {
		if !b.Idle() && !s.state.Moved {
			continue
		}
		if res, ok := ctx.Pool.LastResult(b.AgentID); ok {
			ctx.Log.Infof("sentry %d: %s left its post: %s", s.meta.ID, b.AgentID, res)
			ctx.Pool.ClearLast(b.AgentID)
		}
		if err := ctx.Pool.AssignTask(b.AgentID, s.hold()); err != nil {
			return err
		}
	}
	s.state.Moved = false

	for i := len(owned); i < s.state.Count; i++ {
		err := ctx.Pool.Enqueue(pool.Request{
			Group:    s.state.Group,
			Runner:   runner,
			Home:     s.meta.ID,
			Priority: s.state.Priority,
			Build:    func(world.Agent) *task.Task { return s.hold() },
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *sentry) hold() *task.Task {
	return task.Flee(task.Loop(task.MoveTo(s.state.Post, 0)), s.state.Radius, s.state.Distance)
}

func (s *sentry) HandleMessage(text string) string {
	verb, args := command(text)
	switch verb {
	case "post":
		if len(args) != 3 {
			return "usage: post <room> <x> <y>"
		}
		x, errX := strconv.Atoi(args[1])
		y, errY := strconv.Atoi(args[2])
		if errX != nil || errY != nil {
			return "post coordinates must be integers"
		}
		s.state.Post = world.Position{Room: args[0], X: x, Y: y}
		s.state.Moved = true
		return "post moved to " + s.state.Post.String()
	case "status":
		return s.ShortDescription()
	}
	return fmt.Sprintf("unknown command %q (post <room> <x> <y> | status)", verb)
}

func (s *sentry) ShortDescription() string {
	return fmt.Sprintf("%d x %s at %s", s.state.Count, s.state.Group, s.state.Post)
}
