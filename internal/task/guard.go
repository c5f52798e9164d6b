package task

import "github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"

// Guard wraps a child task and flees while a hostile is within Radius.
// A triggered tick never touches the child, so it resumes unchanged afterwards.
type Guard struct {
	Child       *Task
	Radius      int
	Distance    int
	Active      bool
	Preemptions int
}

func (g *Guard) run(ctx Context, agent world.Agent) Result {
	if hostile, ok := ctx.World.Hostile(agent.Pos, g.Radius); ok {
		g.Active = true
		g.Preemptions++
		ctx.World.Flee(agent.ID, hostile.Pos, g.Distance)
		return InProgress()
	}
	g.Active = false
	if g.Child == nil {
		return Finished()
	}
	return g.Child.Run(ctx, agent.ID)
}
