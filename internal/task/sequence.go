package task

import "github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"

// DefaultFailureHistory bounds the failures a sequence remembers.
const DefaultFailureHistory = 8

// Sequence runs its children one after another.
//
// With IgnoreFailure a failed child is recorded and skipped. With FinishWhenSucceed
// unset the sequence starts over from the first child instead of finishing.
type Sequence struct {
	Children          []*Task
	Index             int
	IgnoreFailure     bool
	FinishWhenSucceed bool
	Failures          []Failure
}

// Failure records a child failure swallowed by IgnoreFailure.
type Failure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Tick   uint64 `json:"tick"`
}

func (s *Sequence) run(ctx Context, agent world.Agent) Result {
	if s.Index >= len(s.Children) {
		return Finished()
	}

	res := s.Children[s.Index].Run(ctx, agent.ID)
	switch res.Status {
	case StatusInProgress:
		return res
	case StatusFailed:
		if !s.IgnoreFailure {
			return res
		}
		s.Failures = append(s.Failures, Failure{Index: s.Index, Reason: res.Reason, Tick: ctx.Tick})
		if n := len(s.Failures) - DefaultFailureHistory; n > 0 {
			s.Failures = append([]Failure(nil), s.Failures[n:]...)
		}
	}
	return s.advance()
}

// advance moves past the current child. The next child runs on the next call.
func (s *Sequence) advance() Result {
	s.Index++
	if s.Index < len(s.Children) {
		return InProgress()
	}
	if s.FinishWhenSucceed {
		return Finished()
	}
	s.Index = 0
	for _, c := range s.Children {
		c.reset()
	}
	return InProgress()
}
