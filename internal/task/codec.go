package task

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/logging"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/registry"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

// Record is the serialized form of a Task.
type Record struct {
	Kind   Kind            `json:"kind"`
	Phase  Phase           `json:"phase,omitempty"`
	Reason string          `json:"reason,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

// TypeTag returns the kind the record decodes as.
func (r Record) TypeTag() string {
	return string(r.Kind)
}

type sequenceState struct {
	Children          []Record  `json:"children"`
	Index             int       `json:"index"`
	IgnoreFailure     bool      `json:"ignore_failure,omitempty"`
	FinishWhenSucceed bool      `json:"finish_when_succeed"`
	Failures          []Failure `json:"failures,omitempty"`
}

type guardState struct {
	Child       Record `json:"child"`
	Radius      int    `json:"radius"`
	Distance    int    `json:"distance"`
	Active      bool   `json:"active,omitempty"`
	Preemptions int    `json:"preemptions,omitempty"`
}

var errMalformed = errors.New("malformed task")

// Codec converts tasks to and from Records through a registry keyed by Kind.
type Codec struct {
	reg *registry.Registry[Record, *Task]
}

// NewCodec returns a codec with every built-in kind registered.
func NewCodec(logger *logging.Logger) *Codec {
	c := &Codec{reg: registry.New[Record, *Task]("task", logger)}
	c.reg.MustRegister(string(KindAction), c.decodeAction)
	c.reg.MustRegister(string(KindSequence), c.decodeSequence)
	c.reg.MustRegister(string(KindEndless), c.decodeEndless)
	c.reg.MustRegister(string(KindGuard), c.decodeGuard)
	return c
}

// Encode converts a task tree to its Record.
func (c *Codec) Encode(t *Task) (Record, error) {
	if t == nil {
		return Record{}, fmt.Errorf("encode nil task: %w", errMalformed)
	}
	rec := Record{Kind: t.Kind, Phase: t.Phase, Reason: t.Reason}

	var state interface{}
	switch t.Kind {
	case KindAction:
		if t.Action == nil {
			return Record{}, fmt.Errorf("action without payload: %w", errMalformed)
		}
		state = t.Action
	case KindSequence:
		if t.Sequence == nil {
			return Record{}, fmt.Errorf("sequence without payload: %w", errMalformed)
		}
		st := sequenceState{
			Index:             t.Sequence.Index,
			IgnoreFailure:     t.Sequence.IgnoreFailure,
			FinishWhenSucceed: t.Sequence.FinishWhenSucceed,
			Failures:          t.Sequence.Failures,
		}
		for i, child := range t.Sequence.Children {
			cr, err := c.Encode(child)
			if err != nil {
				return Record{}, fmt.Errorf("sequence child %d: %w", i, err)
			}
			st.Children = append(st.Children, cr)
		}
		state = st
	case KindEndless:
		return rec, nil
	case KindGuard:
		if t.Guard == nil || t.Guard.Child == nil {
			return Record{}, fmt.Errorf("guard without child: %w", errMalformed)
		}
		cr, err := c.Encode(t.Guard.Child)
		if err != nil {
			return Record{}, fmt.Errorf("guard child: %w", err)
		}
		state = guardState{
			Child:       cr,
			Radius:      t.Guard.Radius,
			Distance:    t.Guard.Distance,
			Active:      t.Guard.Active,
			Preemptions: t.Guard.Preemptions,
		}
	default:
		return Record{}, fmt.Errorf("kind %q: %w", t.Kind, registry.ErrUnknownTag)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s state: %w", t.Kind, err)
	}
	rec.State = data
	return rec, nil
}

// Decode rebuilds a task, writing a FATAL diagnostic when the record is unusable.
func (c *Codec) Decode(rec Record) (*Task, bool) {
	return c.reg.Decode(rec)
}

// Resolve rebuilds a task without logging.
func (c *Codec) Resolve(rec Record) (*Task, error) {
	return c.reg.Resolve(rec)
}

// Marshal encodes a task to JSON.
func (c *Codec) Marshal(t *Task) (json.RawMessage, error) {
	rec, err := c.Encode(t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// Unmarshal decodes a task from JSON produced by Marshal.
func (c *Codec) Unmarshal(data []byte) (*Task, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal task record: %w", err)
	}
	return c.Resolve(rec)
}

func (c *Codec) decodeAction(rec Record) (*Task, error) {
	var a Action
	if err := json.Unmarshal(rec.State, &a); err != nil {
		return nil, err
	}
	if a.Verb == "" {
		return nil, fmt.Errorf("action without verb: %w", errMalformed)
	}
	if a.Verb == world.VerbMove && a.Pos == nil && a.Target == "" {
		return nil, fmt.Errorf("move without destination: %w", errMalformed)
	}
	return restore(rec, &Task{Kind: KindAction, Action: &a}), nil
}

func (c *Codec) decodeSequence(rec Record) (*Task, error) {
	var st sequenceState
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return nil, err
	}
	if st.Index < 0 || st.Index > len(st.Children) {
		return nil, fmt.Errorf("sequence index %d of %d: %w", st.Index, len(st.Children), errMalformed)
	}
	s := &Sequence{
		Index:             st.Index,
		IgnoreFailure:     st.IgnoreFailure,
		FinishWhenSucceed: st.FinishWhenSucceed,
		Failures:          st.Failures,
	}
	for i, cr := range st.Children {
		child, err := c.Resolve(cr)
		if err != nil {
			return nil, fmt.Errorf("sequence child %d: %w", i, err)
		}
		s.Children = append(s.Children, child)
	}
	return restore(rec, &Task{Kind: KindSequence, Sequence: s}), nil
}

func (c *Codec) decodeEndless(rec Record) (*Task, error) {
	return restore(rec, &Task{Kind: KindEndless}), nil
}

func (c *Codec) decodeGuard(rec Record) (*Task, error) {
	var st guardState
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return nil, err
	}
	child, err := c.Resolve(st.Child)
	if err != nil {
		return nil, fmt.Errorf("guard child: %w", err)
	}
	return restore(rec, &Task{Kind: KindGuard, Guard: &Guard{
		Child:       child,
		Radius:      st.Radius,
		Distance:    st.Distance,
		Active:      st.Active,
		Preemptions: st.Preemptions,
	}}), nil
}

func restore(rec Record, t *Task) *Task {
	t.Phase = rec.Phase
	if t.Phase == "" {
		t.Phase = PhasePending
	}
	t.Reason = rec.Reason
	return t
}
