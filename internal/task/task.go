// Package task implements multi-tick agent behaviors as a serializable tree.
//
// A Task is a tagged union over Kind. Run advances it by at most one primitive step and
// reports whether it is still in progress, finished or failed. Every field is plain data,
// so a task rebuilt from its Record on the next tick continues where it left off.
package task

import (
	"fmt"
	"strings"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

// Kind selects which variant of a Task is populated.
type Kind string

const (
	KindAction   Kind = "action"
	KindSequence Kind = "sequence"
	KindEndless  Kind = "endless"
	KindGuard    Kind = "guard"
)

// Phase is the lifecycle state of a task.
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseRunning  Phase = "running"
	PhaseFinished Phase = "finished"
	PhaseFailed   Phase = "failed"
)

// Status is the per-tick outcome of running a task.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusFailed     Status = "failed"
)

// Failure reasons reported by the built-in kinds.
const (
	ReasonAgentGone   = "agent_gone"
	ReasonTargetGone  = "target_gone"
	ReasonInvalid     = "invalid_target"
	ReasonNotEnough   = "not_enough_resources"
	ReasonNoPath      = "no_path"
	ReasonUnknownKind = "unknown_kind"
)

// Result is what a task reports after one step.
type Result struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func InProgress() Result { return Result{Status: StatusInProgress} }

func Finished() Result { return Result{Status: StatusFinished} }

func Failed(reason string) Result { return Result{Status: StatusFailed, Reason: reason} }

// Done reports whether the task reached a terminal state.
func (r Result) Done() bool {
	return r.Status == StatusFinished || r.Status == StatusFailed
}

func (r Result) String() string {
	if r.Reason != "" {
		return fmt.Sprintf("%s(%s)", r.Status, r.Reason)
	}
	return string(r.Status)
}

// Context carries the per-tick values a task needs.
type Context struct {
	Tick  uint64
	World world.World
}

// Task is one node of a behavior tree. Exactly one of Action, Sequence or Guard is
// set, matching Kind; endless tasks carry no payload.
type Task struct {
	Kind   Kind
	Phase  Phase
	Reason string

	Action   *Action
	Sequence *Sequence
	Guard    *Guard
}

// Run advances the task by one step on behalf of the agent.
func (t *Task) Run(ctx Context, agentID world.ID) Result {
	switch t.Phase {
	case PhaseFinished:
		return Finished()
	case PhaseFailed:
		return Failed(t.Reason)
	}

	agent, ok := ctx.World.Agent(agentID)
	if !ok {
		return t.settle(Failed(ReasonAgentGone))
	}
	t.Phase = PhaseRunning

	var res Result
	switch t.Kind {
	case KindAction:
		if t.Action == nil {
			return t.settle(Failed(ReasonUnknownKind))
		}
		res = t.Action.run(ctx, agent)
	case KindSequence:
		if t.Sequence == nil {
			return t.settle(Failed(ReasonUnknownKind))
		}
		res = t.Sequence.run(ctx, agent)
	case KindEndless:
		res = InProgress()
	case KindGuard:
		if t.Guard == nil {
			return t.settle(Failed(ReasonUnknownKind))
		}
		res = t.Guard.run(ctx, agent)
	default:
		res = Failed(ReasonUnknownKind)
	}
	return t.settle(res)
}

func (t *Task) settle(res Result) Result {
	switch res.Status {
	case StatusFinished:
		t.Phase = PhaseFinished
	case StatusFailed:
		t.Phase = PhaseFailed
		t.Reason = res.Reason
	}
	return res
}

// reset returns the task and its subtree to the pending state.
func (t *Task) reset() {
	t.Phase = PhasePending
	t.Reason = ""
	switch t.Kind {
	case KindSequence:
		if t.Sequence != nil {
			t.Sequence.Index = 0
			for _, c := range t.Sequence.Children {
				c.reset()
			}
		}
	case KindGuard:
		if t.Guard != nil {
			t.Guard.Active = false
			if t.Guard.Child != nil {
				t.Guard.Child.reset()
			}
		}
	}
}

// Describe returns a one-line summary of the task and its current step.
func (t *Task) Describe() string {
	if t == nil {
		return "-"
	}
	switch t.Kind {
	case KindAction:
		if t.Action == nil {
			return "action(?)"
		}
		return t.Action.describe()
	case KindSequence:
		if t.Sequence == nil {
			return "sequence(?)"
		}
		s := t.Sequence
		if s.Index >= len(s.Children) {
			return fmt.Sprintf("sequence %d/%d", s.Index, len(s.Children))
		}
		return fmt.Sprintf("sequence %d/%d > %s", s.Index+1, len(s.Children), s.Children[s.Index].Describe())
	case KindEndless:
		return "endless"
	case KindGuard:
		if t.Guard == nil {
			return "guard(?)"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "guard r=%d", t.Guard.Radius)
		if t.Guard.Active {
			b.WriteString(" fleeing")
		}
		b.WriteString(" > ")
		b.WriteString(t.Guard.Child.Describe())
		return b.String()
	}
	return string(t.Kind)
}
