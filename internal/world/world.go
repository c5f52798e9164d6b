// Package world defines the game-world surface the kernel and tasks act through.
//
// Everything persisted refers to agents and objects by ID. Live values are looked up
// again every tick and may be gone.
package world

import (
	"fmt"
	"math"
)

// ID is a stable identifier of an agent or object.
type ID string

// Unreachable is the range between positions in different rooms.
const Unreachable = math.MaxInt32

// Position is a tile in a room.
type Position struct {
	Room string `json:"room" yaml:"room"`
	X    int    `json:"x" yaml:"x"`
	Y    int    `json:"y" yaml:"y"`
}

// Range returns the Chebyshev distance between p and o.
func (p Position) Range(o Position) int {
	if p.Room != o.Room {
		return Unreachable
	}
	return max(abs(p.X-o.X), abs(p.Y-o.Y))
}

func (p Position) String() string {
	return fmt.Sprintf("%s(%d,%d)", p.Room, p.X, p.Y)
}

// Verb names a primitive agent action.
type Verb string

const (
	VerbMove      Verb = "move"
	VerbWithdraw  Verb = "withdraw"
	VerbTransfer  Verb = "transfer"
	VerbHarvest   Verb = "harvest"
	VerbBuild     Verb = "build"
	VerbRepair    Verb = "repair"
	VerbAttack    Verb = "attack"
	VerbDismantle Verb = "dismantle"
	VerbSuicide   Verb = "suicide"
)

// ActionRange returns how close an agent must be to its target to perform verb.
func ActionRange(verb Verb) int {
	switch verb {
	case VerbBuild, VerbRepair:
		return 3
	case VerbSuicide:
		return Unreachable
	default:
		return 1
	}
}

// Outcome is the result code of a primitive action.
type Outcome string

const (
	OK         Outcome = "ok"
	NotInRange Outcome = "not_in_range"
	Full       Outcome = "full"
	NotEnough  Outcome = "not_enough"
	Busy       Outcome = "busy"
	Invalid    Outcome = "invalid"
	Done       Outcome = "done"
	NoPath     Outcome = "no_path"
)

// ObjectKind classifies world objects.
type ObjectKind string

const (
	KindContainer ObjectKind = "container"
	KindSource    ObjectKind = "source"
	KindSite      ObjectKind = "site"
	KindStructure ObjectKind = "structure"
	KindHostile   ObjectKind = "hostile"
)

// Agent is a snapshot of a worker agent for the current tick.
type Agent struct {
	ID       ID       `json:"id" yaml:"id"`
	Group    string   `json:"group" yaml:"group"`
	Pos      Position `json:"pos" yaml:"pos"`
	Body     []string `json:"body,omitempty" yaml:"body,omitempty"`
	Carry    int      `json:"carry,omitempty" yaml:"carry,omitempty"`
	Capacity int      `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Spawning bool     `json:"spawning,omitempty" yaml:"spawning,omitempty"`
}

// Parts returns how many body parts of the given kind the agent has.
func (a Agent) Parts(part string) int {
	n := 0
	for _, p := range a.Body {
		if p == part {
			n++
		}
	}
	return n
}

// Free returns the unused carry capacity.
func (a Agent) Free() int {
	return a.Capacity - a.Carry
}

// Object is a snapshot of a non-agent world object.
type Object struct {
	ID            ID         `json:"id" yaml:"id"`
	Kind          ObjectKind `json:"kind" yaml:"kind"`
	Pos           Position   `json:"pos" yaml:"pos"`
	Amount        int        `json:"amount,omitempty" yaml:"amount,omitempty"`
	Capacity      int        `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Regen         int        `json:"regen,omitempty" yaml:"regen,omitempty"`
	HP            int        `json:"hp,omitempty" yaml:"hp,omitempty"`
	MaxHP         int        `json:"max_hp,omitempty" yaml:"max_hp,omitempty"`
	Progress      int        `json:"progress,omitempty" yaml:"progress,omitempty"`
	ProgressTotal int        `json:"progress_total,omitempty" yaml:"progress_total,omitempty"`
}

// World is the query/command surface of the game world.
type World interface {
	// Time returns the current tick number.
	Time() uint64
	Agent(id ID) (Agent, bool)
	Object(id ID) (Object, bool)
	// Agents returns the agents of a group sorted by ID. An empty group returns all agents.
	Agents(group string) []Agent
	// Hostile returns the nearest hostile within radius of pos.
	Hostile(pos Position, radius int) (Object, bool)
	Move(agent ID, to Position, rng int) Outcome
	Flee(agent ID, from Position, rng int) Outcome
	Act(agent ID, verb Verb, target ID, amount int) Outcome
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
