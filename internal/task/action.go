package task

import (
	"fmt"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

// Action is a single primitive agent action. Targets are stored by ID and looked up
// again on every run.
type Action struct {
	Verb   world.Verb      `json:"verb"`
	Target world.ID        `json:"target,omitempty"`
	Pos    *world.Position `json:"pos,omitempty"`
	Range  int             `json:"range,omitempty"`
	Amount int             `json:"amount,omitempty"`
}

func (a *Action) run(ctx Context, agent world.Agent) Result {
	switch a.Verb {
	case world.VerbMove:
		return a.move(ctx, agent)
	case world.VerbSuicide:
		ctx.World.Act(agent.ID, world.VerbSuicide, "", 0)
		return Finished()
	}

	target, ok := ctx.World.Object(a.Target)
	if !ok {
		return Failed(ReasonTargetGone)
	}

	out := ctx.World.Act(agent.ID, a.Verb, a.Target, a.Amount)
	if out == world.NotInRange {
		if ctx.World.Move(agent.ID, target.Pos, world.ActionRange(a.Verb)) == world.NoPath {
			return Failed(ReasonNoPath)
		}
		return InProgress()
	}
	return interpret(a.Verb, out)
}

func (a *Action) move(ctx Context, agent world.Agent) Result {
	var dest world.Position
	if a.Pos != nil {
		dest = *a.Pos
	} else {
		target, ok := ctx.World.Object(a.Target)
		if !ok {
			return Failed(ReasonTargetGone)
		}
		dest = target.Pos
	}
	if agent.Pos.Range(dest) <= a.Range {
		return Finished()
	}
	switch ctx.World.Move(agent.ID, dest, a.Range) {
	case world.NoPath:
		return Failed(ReasonNoPath)
	case world.Invalid:
		return Failed(ReasonInvalid)
	}
	return InProgress()
}

// interpret maps a primitive outcome to a task result.
func interpret(verb world.Verb, out world.Outcome) Result {
	switch out {
	case world.OK:
		switch verb {
		case world.VerbWithdraw, world.VerbTransfer:
			return Finished()
		}
		return InProgress()
	case world.Done, world.Full:
		return Finished()
	case world.Busy:
		return InProgress()
	case world.NotEnough:
		switch verb {
		case world.VerbWithdraw:
			return Failed(ReasonNotEnough)
		case world.VerbHarvest:
			return InProgress()
		}
		return Finished()
	case world.Invalid:
		return Failed(ReasonInvalid)
	case world.NoPath:
		return Failed(ReasonNoPath)
	}
	return Failed(string(out))
}

func (a *Action) describe() string {
	switch {
	case a.Pos != nil:
		return fmt.Sprintf("%s %s", a.Verb, a.Pos)
	case a.Target != "":
		return fmt.Sprintf("%s %s", a.Verb, a.Target)
	}
	return string(a.Verb)
}
