// Package pool binds worker agents to the processes and tasks that use them.
//
// Each agent has at most one binding, and each binding at most one active task.
// Bindings are keyed by agent ID, so a second assignment replaces the first.
package pool

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/logging"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/task"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

var (
	// ErrNotClaimed indicates the agent has no binding to attach a task to.
	ErrNotClaimed = errors.New("agent not claimed")

	// ErrClaimed indicates the agent is busy for another runner.
	ErrClaimed = errors.New("agent claimed by another runner")

	// ErrUnknownAgent indicates the agent does not exist in the world.
	ErrUnknownAgent = errors.New("unknown agent")
)

// Predicate filters agents by capability.
type Predicate func(world.Agent) bool

// HasParts accepts agents with at least one of every listed body part.
func HasParts(parts ...string) Predicate {
	return func(a world.Agent) bool {
		for _, p := range parts {
			if a.Parts(p) == 0 {
				return false
			}
		}
		return true
	}
}

// Request asks for one idle agent of a group.
type Request struct {
	Group    string
	Runner   string
	Home     models.ProcessID
	Priority Priority
	Filter   Predicate
	// Build creates the task for an agent granted by Resolve. May return nil.
	Build func(world.Agent) *task.Task
}

// Binding ties an agent to its owning process and current task.
type Binding struct {
	AgentID    world.ID
	Group      string
	Home       models.ProcessID
	Runner     string
	Priority   Priority
	Task       *task.Task
	Last       *task.Result
	AssignedAt uint64
}

// Idle reports whether the agent has no active task.
func (b Binding) Idle() bool {
	return b.Task == nil
}

// Grant reports an agent handed out by Resolve.
type Grant struct {
	AgentID  world.ID
	Runner   string
	Home     models.ProcessID
	Priority Priority
}

// Outcome is the result of running one bound task.
type Outcome struct {
	AgentID world.ID
	Runner  string
	Home    models.ProcessID
	Result  task.Result
}

// Pool holds all agent bindings.
type Pool struct {
	codec  *task.Codec
	logger *logging.Logger

	world    world.World
	tick     uint64
	bindings map[world.ID]*Binding
	pending  []Request
	lost     []Outcome
}

// New returns an empty pool.
func New(codec *task.Codec, logger *logging.Logger) *Pool {
	return &Pool{
		codec:    codec,
		logger:   logger,
		bindings: map[world.ID]*Binding{},
	}
}

// Begin prepares the pool for a tick. Bindings of agents that no longer exist are
// dropped and reported through Lost.
func (p *Pool) Begin(w world.World) {
	p.world = w
	p.tick = w.Time()
	p.pending = nil
	p.lost = nil
	for _, id := range p.sortedIDs() {
		if _, ok := w.Agent(id); ok {
			continue
		}
		b := p.bindings[id]
		p.lost = append(p.lost, Outcome{AgentID: id, Runner: b.Runner, Home: b.Home, Result: task.Failed(task.ReasonAgentGone)})
		delete(p.bindings, id)
	}
}

// Request claims an eligible agent. Eligible agents belong to the group, pass the
// filter and have no task. Unowned agents are taken first, then the caller's own idle
// agents, each in stable ID order. Urgent requests may also take idle agents held at a
// lower priority by other runners.
func (p *Pool) Request(req Request) (world.Agent, bool) {
	a, ok := p.pick(req)
	if !ok {
		return world.Agent{}, false
	}
	p.claim(a, req)
	return a, true
}

// Enqueue defers a request to Resolve.
func (p *Pool) Enqueue(req Request) error {
	if req.Build == nil {
		return fmt.Errorf("request from %s: build func is required", req.Runner)
	}
	p.pending = append(p.pending, req)
	return nil
}

// Resolve serves deferred requests by priority, ties in submission order.
func (p *Pool) Resolve() []Grant {
	reqs := p.pending
	p.pending = nil
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].Priority > reqs[j].Priority
	})

	var grants []Grant
	for _, req := range reqs {
		a, ok := p.pick(req)
		if !ok {
			continue
		}
		b := p.claim(a, req)
		b.Task = req.Build(a)
		grants = append(grants, Grant{AgentID: a.ID, Runner: req.Runner, Home: req.Home, Priority: req.Priority})
	}
	return grants
}

// Checkpoint is a copy of the pool's bindings and pending requests.
type Checkpoint struct {
	bindings map[world.ID]Binding
	pending  int
}

// Checkpoint copies the current bindings so Rollback can undo later changes.
func (p *Pool) Checkpoint() Checkpoint {
	c := Checkpoint{
		bindings: make(map[world.ID]Binding, len(p.bindings)),
		pending:  len(p.pending),
	}
	for id, b := range p.bindings {
		c.bindings[id] = *b
	}
	return c
}

// Rollback restores the bindings from c and drops requests enqueued after it.
func (p *Pool) Rollback(c Checkpoint) {
	p.bindings = make(map[world.ID]*Binding, len(c.bindings))
	for id, b := range c.bindings {
		b := b
		p.bindings[id] = &b
	}
	if len(p.pending) > c.pending {
		p.pending = p.pending[:c.pending]
	}
}

// Claim binds a specific agent to a runner.
func (p *Pool) Claim(agentID world.ID, runner string, home models.ProcessID, priority Priority) error {
	if p.world == nil {
		return fmt.Errorf("claim %s: %w", agentID, ErrUnknownAgent)
	}
	a, ok := p.world.Agent(agentID)
	if !ok {
		return fmt.Errorf("claim %s: %w", agentID, ErrUnknownAgent)
	}
	if b, ok := p.bindings[agentID]; ok {
		if b.Runner == runner {
			b.Home, b.Priority = home, priority
			return nil
		}
		if !b.Idle() {
			return fmt.Errorf("claim %s held by %s: %w", agentID, b.Runner, ErrClaimed)
		}
	}
	p.claim(a, Request{Group: a.Group, Runner: runner, Home: home, Priority: priority})
	return nil
}

// AssignTask sets the agent's task, replacing any previous one.
func (p *Pool) AssignTask(agentID world.ID, t *task.Task) error {
	b, ok := p.bindings[agentID]
	if !ok {
		return fmt.Errorf("assign task to %s: %w", agentID, ErrNotClaimed)
	}
	b.Task = t
	b.AssignedAt = p.tick
	return nil
}

// Release drops an agent's binding.
func (p *Pool) Release(agentID world.ID) {
	delete(p.bindings, agentID)
}

// ReleaseRunner drops every binding owned by runner and returns how many were dropped.
func (p *Pool) ReleaseRunner(runner string) int {
	n := 0
	for id, b := range p.bindings {
		if b.Runner == runner {
			delete(p.bindings, id)
			n++
		}
	}
	return n
}

// ReleaseOrphans drops bindings whose home process is not live.
func (p *Pool) ReleaseOrphans(live func(models.ProcessID) bool) int {
	n := 0
	for id, b := range p.bindings {
		if !live(b.Home) {
			delete(p.bindings, id)
			n++
		}
	}
	return n
}

// Count returns how many agents of the group satisfy the filter.
func (p *Pool) Count(group string, filter Predicate) int {
	if p.world == nil {
		return 0
	}
	n := 0
	for _, a := range p.world.Agents(group) {
		if filter == nil || filter(a) {
			n++
		}
	}
	return n
}

// EnumerateIdle returns the runner's agents in the group that have no task.
func (p *Pool) EnumerateIdle(group, runner string) []world.Agent {
	if p.world == nil {
		return nil
	}
	var out []world.Agent
	for _, a := range p.world.Agents(group) {
		if b, ok := p.bindings[a.ID]; ok && b.Runner == runner && b.Idle() {
			out = append(out, a)
		}
	}
	return out
}

// Owned returns the runner's bindings sorted by agent ID.
func (p *Pool) Owned(runner string) []Binding {
	var out []Binding
	for _, id := range p.sortedIDs() {
		if b := p.bindings[id]; b.Runner == runner {
			out = append(out, *b)
		}
	}
	return out
}

// Bindings returns every binding sorted by agent ID.
func (p *Pool) Bindings() []Binding {
	out := make([]Binding, 0, len(p.bindings))
	for _, id := range p.sortedIDs() {
		out = append(out, *p.bindings[id])
	}
	return out
}

// Binding returns the binding of one agent.
func (p *Pool) Binding(agentID world.ID) (Binding, bool) {
	b, ok := p.bindings[agentID]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

// LastResult returns the terminal result of the agent's previous task.
func (p *Pool) LastResult(agentID world.ID) (task.Result, bool) {
	b, ok := p.bindings[agentID]
	if !ok || b.Last == nil {
		return task.Result{}, false
	}
	return *b.Last, true
}

// ClearLast forgets the agent's previous result once the owner has handled it.
func (p *Pool) ClearLast(agentID world.ID) {
	if b, ok := p.bindings[agentID]; ok {
		b.Last = nil
	}
}

// Lost returns the runner's agents that disappeared since the last tick.
func (p *Pool) Lost(runner string) []Outcome {
	var out []Outcome
	for _, o := range p.lost {
		if o.Runner == runner {
			out = append(out, o)
		}
	}
	return out
}

// RunTasks runs one step of every bound task in agent ID order. Terminal tasks are
// unbound and their result kept as the agent's last result. An agent that vanished
// keeps its idle binding until the next Begin reports it through Lost.
func (p *Pool) RunTasks(ctx task.Context) []Outcome {
	var outcomes []Outcome
	for _, id := range p.sortedIDs() {
		b := p.bindings[id]
		if b.Task == nil {
			continue
		}
		res := b.Task.Run(ctx, id)
		o := Outcome{AgentID: id, Runner: b.Runner, Home: b.Home, Result: res}
		outcomes = append(outcomes, o)

		if res.Status == task.StatusFailed && res.Reason == task.ReasonAgentGone {
			b.Task = nil
			continue
		}
		if res.Done() {
			b.Last = &res
			b.Task = nil
		}
	}
	return outcomes
}

// Snapshot encodes every binding in agent ID order.
func (p *Pool) Snapshot() ([]models.AgentBinding, error) {
	var out []models.AgentBinding
	for _, id := range p.sortedIDs() {
		b := p.bindings[id]
		rec := models.AgentBinding{
			AgentID:     string(b.AgentID),
			Group:       b.Group,
			HomeProcess: b.Home,
			Runner:      b.Runner,
			Priority:    b.Priority.String(),
			AssignedAt:  b.AssignedAt,
		}
		if b.Task != nil {
			data, err := p.codec.Marshal(b.Task)
			if err != nil {
				return nil, fmt.Errorf("encode task of %s: %w", id, err)
			}
			rec.Task = data
		}
		if b.Last != nil {
			rec.LastStatus = string(b.Last.Status)
			rec.LastReason = b.Last.Reason
		}
		out = append(out, rec)
	}
	return out, nil
}

// Restore replaces all bindings with decoded ones. A task that cannot be decoded is
// dropped with a diagnostic and its agent stays claimed but idle.
func (p *Pool) Restore(recs []models.AgentBinding) {
	p.bindings = make(map[world.ID]*Binding, len(recs))
	for _, rec := range recs {
		prio, err := ParsePriority(rec.Priority)
		if err != nil {
			p.logger.Warnf("binding %s: %v", rec.AgentID, err)
		}
		b := &Binding{
			AgentID:    world.ID(rec.AgentID),
			Group:      rec.Group,
			Home:       rec.HomeProcess,
			Runner:     rec.Runner,
			Priority:   prio,
			AssignedAt: rec.AssignedAt,
		}
		if len(rec.Task) > 0 {
			var tr task.Record
			if err := json.Unmarshal(rec.Task, &tr); err != nil {
				p.logger.Fatalf("binding %s: unmarshal task: %v", rec.AgentID, err)
			} else if t, ok := p.codec.Decode(tr); ok {
				b.Task = t
			}
		}
		if rec.LastStatus != "" {
			b.Last = &task.Result{Status: task.Status(rec.LastStatus), Reason: rec.LastReason}
		}
		p.bindings[b.AgentID] = b
	}
}

func (p *Pool) pick(req Request) (world.Agent, bool) {
	if p.world == nil {
		return world.Agent{}, false
	}
	var own, reclaim *world.Agent
	for _, a := range p.world.Agents(req.Group) {
		if req.Filter != nil && !req.Filter(a) {
			continue
		}
		b, owned := p.bindings[a.ID]
		if !owned {
			return a, true
		}
		if !b.Idle() {
			continue
		}
		a := a
		switch {
		case b.Runner == req.Runner:
			if own == nil {
				own = &a
			}
		case reclaim == nil && req.Priority == PriorityUrgent && b.Priority < PriorityUrgent:
			reclaim = &a
		}
	}
	if own != nil {
		return *own, true
	}
	if reclaim != nil {
		return *reclaim, true
	}
	return world.Agent{}, false
}

func (p *Pool) claim(a world.Agent, req Request) *Binding {
	b := &Binding{
		AgentID:    a.ID,
		Group:      a.Group,
		Home:       req.Home,
		Runner:     req.Runner,
		Priority:   req.Priority,
		AssignedAt: p.tick,
	}
	if old, ok := p.bindings[a.ID]; ok {
		if old.Runner == req.Runner {
			b.Last = old.Last
		} else {
			p.logger.Infof("agent %s reclaimed from %s by %s", a.ID, old.Runner, req.Runner)
		}
	}
	p.bindings[a.ID] = b
	return b
}

func (p *Pool) sortedIDs() []world.ID {
	ids := make([]world.ID, 0, len(p.bindings))
	for id := range p.bindings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
