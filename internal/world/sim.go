package world

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

const defaultRoomSize = 50

// Exit connects two rooms. An agent standing on At moves to Entry when it steps toward To.
type Exit struct {
	From  string   `json:"from" yaml:"from"`
	To    string   `json:"to" yaml:"to"`
	At    Position `json:"at" yaml:"at"`
	Entry Position `json:"entry" yaml:"entry"`
}

// simState is the serialized form of a Sim, shared by JSON snapshots and YAML scenarios.
type simState struct {
	Clock   uint64   `json:"clock" yaml:"clock"`
	Size    int      `json:"size" yaml:"size"`
	Agents  []Agent  `json:"agents" yaml:"agents"`
	Objects []Object `json:"objects" yaml:"objects"`
	Exits   []Exit   `json:"exits,omitempty" yaml:"exits,omitempty"`
}

// Sim is a deterministic in-memory World of square rooms joined by exits.
type Sim struct {
	clock   uint64
	size    int
	agents  map[ID]*Agent
	objects map[ID]*Object
	exits   []Exit
}

var _ World = (*Sim)(nil)

// NewSim returns an empty world at tick 0.
func NewSim() *Sim {
	return &Sim{
		size:    defaultRoomSize,
		agents:  map[ID]*Agent{},
		objects: map[ID]*Object{},
	}
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Sim, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario builds a Sim from YAML.
func ParseScenario(data []byte) (*Sim, error) {
	var st simState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return fromState(st)
}

func fromState(st simState) (*Sim, error) {
	s := NewSim()
	s.clock = st.Clock
	if st.Size > 0 {
		s.size = st.Size
	}
	for _, a := range st.Agents {
		if err := s.AddAgent(a); err != nil {
			return nil, err
		}
	}
	for _, o := range st.Objects {
		if err := s.AddObject(o); err != nil {
			return nil, err
		}
	}
	s.exits = append(s.exits, st.Exits...)
	return s, nil
}

// MarshalJSON encodes the world with agents and objects sorted by ID.
func (s *Sim) MarshalJSON() ([]byte, error) {
	st := simState{Clock: s.clock, Size: s.size, Exits: s.exits}
	for _, id := range sortedKeys(s.agents) {
		st.Agents = append(st.Agents, cloneAgent(*s.agents[id]))
	}
	for _, id := range sortedKeys(s.objects) {
		st.Objects = append(st.Objects, *s.objects[id])
	}
	return json.Marshal(st)
}

// UnmarshalJSON restores a world written by MarshalJSON.
func (s *Sim) UnmarshalJSON(data []byte) error {
	var st simState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	restored, err := fromState(st)
	if err != nil {
		return err
	}
	*s = *restored
	return nil
}

// AddAgent places an agent. IDs must be unique across agents.
func (s *Sim) AddAgent(a Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if _, exists := s.agents[a.ID]; exists {
		return fmt.Errorf("agent %s already exists", a.ID)
	}
	a = cloneAgent(a)
	s.agents[a.ID] = &a
	return nil
}

// AddObject places an object. IDs must be unique across objects.
func (s *Sim) AddObject(o Object) error {
	if o.ID == "" {
		return fmt.Errorf("object id is required")
	}
	if _, exists := s.objects[o.ID]; exists {
		return fmt.Errorf("object %s already exists", o.ID)
	}
	s.objects[o.ID] = &o
	return nil
}

// AddExit connects two rooms in one direction.
func (s *Sim) AddExit(e Exit) {
	s.exits = append(s.exits, e)
}

// RemoveAgent deletes an agent, e.g. when it dies.
func (s *Sim) RemoveAgent(id ID) {
	delete(s.agents, id)
}

// RemoveObject deletes an object.
func (s *Sim) RemoveObject(id ID) {
	delete(s.objects, id)
}

// PlaceObject moves an object to pos.
func (s *Sim) PlaceObject(id ID, pos Position) bool {
	o, ok := s.objects[id]
	if !ok {
		return false
	}
	o.Pos = pos
	return true
}

// Objects returns every object sorted by ID.
func (s *Sim) Objects() []Object {
	out := make([]Object, 0, len(s.objects))
	for _, id := range sortedKeys(s.objects) {
		out = append(out, *s.objects[id])
	}
	return out
}

// Advance moves the world to the next tick.
func (s *Sim) Advance() {
	s.clock++
	for _, a := range s.agents {
		a.Spawning = false
	}
	for _, o := range s.objects {
		if o.Kind == KindSource && o.Regen > 0 {
			o.Amount = min(o.Capacity, o.Amount+o.Regen)
		}
	}
}

func (s *Sim) Time() uint64 {
	return s.clock
}

func (s *Sim) Agent(id ID) (Agent, bool) {
	a, ok := s.agents[id]
	if !ok {
		return Agent{}, false
	}
	return cloneAgent(*a), true
}

func (s *Sim) Object(id ID) (Object, bool) {
	o, ok := s.objects[id]
	if !ok {
		return Object{}, false
	}
	return *o, true
}

func (s *Sim) Agents(group string) []Agent {
	var out []Agent
	for _, id := range sortedKeys(s.agents) {
		a := s.agents[id]
		if group == "" || a.Group == group {
			out = append(out, cloneAgent(*a))
		}
	}
	return out
}

func (s *Sim) Hostile(pos Position, radius int) (Object, bool) {
	var best *Object
	bestRange := 0
	for _, id := range sortedKeys(s.objects) {
		o := s.objects[id]
		if o.Kind != KindHostile {
			continue
		}
		r := pos.Range(o.Pos)
		if r > radius {
			continue
		}
		if best == nil || r < bestRange {
			best, bestRange = o, r
		}
	}
	if best == nil {
		return Object{}, false
	}
	return *best, true
}

func (s *Sim) Move(agent ID, to Position, rng int) Outcome {
	a, ok := s.agents[agent]
	if !ok {
		return Invalid
	}
	if a.Spawning {
		return Busy
	}
	if a.Pos.Range(to) <= rng {
		return OK
	}
	if a.Pos.Room != to.Room {
		exit, ok := s.exitBetween(a.Pos.Room, to.Room)
		if !ok {
			return NoPath
		}
		if a.Pos == exit.At {
			a.Pos = exit.Entry
			return OK
		}
		s.step(a, exit.At)
		return OK
	}
	s.step(a, to)
	return OK
}

func (s *Sim) Flee(agent ID, from Position, rng int) Outcome {
	a, ok := s.agents[agent]
	if !ok {
		return Invalid
	}
	if a.Spawning {
		return Busy
	}
	if a.Pos.Range(from) >= rng {
		return OK
	}
	dx, dy := sign(a.Pos.X-from.X), sign(a.Pos.Y-from.Y)
	if dx == 0 && dy == 0 {
		dx = 1
	}
	a.Pos.X = s.clamp(a.Pos.X + dx)
	a.Pos.Y = s.clamp(a.Pos.Y + dy)
	return OK
}

func (s *Sim) Act(agent ID, verb Verb, target ID, amount int) Outcome {
	a, ok := s.agents[agent]
	if !ok {
		return Invalid
	}
	if verb == VerbSuicide {
		delete(s.agents, agent)
		return OK
	}
	if a.Spawning {
		return Busy
	}
	o, ok := s.objects[target]
	if !ok {
		return Invalid
	}
	if a.Pos.Range(o.Pos) > ActionRange(verb) {
		return NotInRange
	}

	switch verb {
	case VerbWithdraw:
		if o.Kind != KindContainer {
			return Invalid
		}
		if a.Free() <= 0 {
			return Full
		}
		if o.Amount <= 0 {
			return NotEnough
		}
		n := limit(min(a.Free(), o.Amount), amount)
		o.Amount -= n
		a.Carry += n
		return OK

	case VerbTransfer:
		if o.Kind != KindContainer && o.Kind != KindStructure {
			return Invalid
		}
		if o.Capacity <= 0 {
			return Invalid
		}
		if a.Carry <= 0 {
			return NotEnough
		}
		if o.Amount >= o.Capacity {
			return Full
		}
		n := limit(min(a.Carry, o.Capacity-o.Amount), amount)
		o.Amount += n
		a.Carry -= n
		return OK

	case VerbHarvest:
		if o.Kind != KindSource || a.Parts("work") == 0 {
			return Invalid
		}
		if a.Free() <= 0 {
			return Full
		}
		if o.Amount <= 0 {
			return NotEnough
		}
		n := limit(min(2*a.Parts("work"), a.Free(), o.Amount), amount)
		o.Amount -= n
		a.Carry += n
		return OK

	case VerbBuild:
		if o.Kind == KindStructure {
			return Done
		}
		if o.Kind != KindSite || a.Parts("work") == 0 {
			return Invalid
		}
		if a.Carry <= 0 {
			return NotEnough
		}
		n := min(a.Carry, 5*a.Parts("work"), o.ProgressTotal-o.Progress)
		a.Carry -= n
		o.Progress += n
		if o.Progress >= o.ProgressTotal {
			o.Kind = KindStructure
			o.HP, o.MaxHP = o.ProgressTotal, o.ProgressTotal
			return Done
		}
		return OK

	case VerbRepair:
		if o.Kind != KindStructure || a.Parts("work") == 0 {
			return Invalid
		}
		if o.HP >= o.MaxHP {
			return Done
		}
		if a.Carry <= 0 {
			return NotEnough
		}
		n := min(a.Carry, o.MaxHP-o.HP)
		a.Carry -= n
		o.HP += n
		if o.HP >= o.MaxHP {
			return Done
		}
		return OK

	case VerbAttack:
		if a.Parts("attack") == 0 || (o.Kind != KindHostile && o.Kind != KindStructure) {
			return Invalid
		}
		return s.damage(o, 30*a.Parts("attack"))

	case VerbDismantle:
		if a.Parts("work") == 0 || o.Kind != KindStructure {
			return Invalid
		}
		return s.damage(o, 50*a.Parts("work"))
	}
	return Invalid
}

func (s *Sim) damage(o *Object, n int) Outcome {
	o.HP -= n
	if o.HP <= 0 {
		delete(s.objects, o.ID)
		return Done
	}
	return OK
}

func (s *Sim) step(a *Agent, to Position) {
	a.Pos.X = s.clamp(a.Pos.X + sign(to.X-a.Pos.X))
	a.Pos.Y = s.clamp(a.Pos.Y + sign(to.Y-a.Pos.Y))
}

func (s *Sim) clamp(n int) int {
	return max(0, min(s.size-1, n))
}

func (s *Sim) exitBetween(from, to string) (Exit, bool) {
	for _, e := range s.exits {
		if e.From == from && e.To == to {
			return e, true
		}
	}
	return Exit{}, false
}

// limit caps n at amount when amount is positive.
func limit(n, amount int) int {
	if amount > 0 && amount < n {
		return amount
	}
	return n
}

func cloneAgent(a Agent) Agent {
	a.Body = append([]string(nil), a.Body...)
	return a
}

func sortedKeys[V any](m map[ID]V) []ID {
	keys := make([]ID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
