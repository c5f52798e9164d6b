package task

import "github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"

// MoveTo moves the agent until it is within rng of pos.
func MoveTo(pos world.Position, rng int) *Task {
	return action(Action{Verb: world.VerbMove, Pos: &pos, Range: rng})
}

// MoveToObject moves the agent until it is within rng of an object.
func MoveToObject(id world.ID, rng int) *Task {
	return action(Action{Verb: world.VerbMove, Target: id, Range: rng})
}

// Do performs verb on target, approaching it first when needed.
func Do(verb world.Verb, target world.ID) *Task {
	return action(Action{Verb: verb, Target: target})
}

// DoAmount is Do limited to amount units.
func DoAmount(verb world.Verb, target world.ID, amount int) *Task {
	return action(Action{Verb: verb, Target: target, Amount: amount})
}

// Suicide removes the agent from the world.
func Suicide() *Task {
	return action(Action{Verb: world.VerbSuicide})
}

// Steps runs children in order and finishes after the last one.
// A failing child fails the sequence.
func Steps(children ...*Task) *Task {
	return Sequential(SequenceOptions{}, children...)
}

// Loop runs children in order forever, starting over after the last one.
func Loop(children ...*Task) *Task {
	return Sequential(SequenceOptions{Loop: true}, children...)
}

// SequenceOptions configures Sequential.
type SequenceOptions struct {
	IgnoreFailure bool
	Loop          bool
}

// Sequential builds a sequence with explicit options.
func Sequential(opts SequenceOptions, children ...*Task) *Task {
	return &Task{
		Kind:  KindSequence,
		Phase: PhasePending,
		Sequence: &Sequence{
			Children:          children,
			IgnoreFailure:     opts.IgnoreFailure,
			FinishWhenSucceed: !opts.Loop,
		},
	}
}

// Endless never finishes.
func Endless() *Task {
	return &Task{Kind: KindEndless, Phase: PhasePending}
}

// Flee wraps child so that the agent runs from any hostile within radius until it
// is distance tiles away.
func Flee(child *Task, radius, distance int) *Task {
	return &Task{
		Kind:  KindGuard,
		Phase: PhasePending,
		Guard: &Guard{Child: child, Radius: radius, Distance: distance},
	}
}

// Travel moves through each waypoint in turn. Intermediate waypoints must be reached
// exactly; the last one within rng. Crossing rooms needs a waypoint per room.
func Travel(waypoints []world.Position, rng int) *Task {
	legs := make([]*Task, 0, len(waypoints))
	for i, wp := range waypoints {
		r := 0
		if i == len(waypoints)-1 {
			r = rng
		}
		legs = append(legs, MoveTo(wp, r))
	}
	return Steps(legs...)
}

func action(a Action) *Task {
	return &Task{Kind: KindAction, Phase: PhasePending, Action: &a}
}
