package processes

import (
	"fmt"
	"strconv"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/pool"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
)

const monitorSamples = 10

type sample struct {
	Tick  uint64 `json:"tick"`
	Count int    `json:"count"`
}

type monitorState struct {
	Group    string   `json:"group"`
	Part     string   `json:"part,omitempty"`
	Interval int      `json:"interval"`
	Next     uint64   `json:"next"`
	Samples  []sample `json:"samples,omitempty"`
}

// monitor periodically reports the population of an agent group.
type monitor struct {
	meta  process.Meta
	state monitorState
}

var monitorType = process.Type{
	Tag:     "monitor",
	Summary: "report group population every interval ticks (group= [part= interval=])",
	Decode: decoder(func(meta process.Meta, st monitorState) process.Process {
		return &monitor{meta: meta, state: st}
	}),
	Launch: launchMonitor,
}

func launchMonitor(meta process.Meta, args process.Args) (process.Process, error) {
	if err := args.Require("group"); err != nil {
		return nil, err
	}
	interval, err := positive(args, "interval", 10)
	if err != nil {
		return nil, err
	}
	return &monitor{meta: meta, state: monitorState{
		Group:    args["group"],
		Part:     args.String("part", ""),
		Interval: interval,
		Next:     meta.LaunchTime,
	}}, nil
}

func (m *monitor) Meta() process.Meta { return m.meta }

func (m *monitor) Encode() (models.ProcessRecord, error) { return m.meta.Record(m.state) }

func (m *monitor) Run(ctx *process.Context) error {
	if ctx.Tick < m.state.Next {
		return nil
	}
	var filter pool.Predicate
	if m.state.Part != "" {
		filter = pool.HasParts(m.state.Part)
	}
	n := ctx.Pool.Count(m.state.Group, filter)
	ctx.Log.Printf("tick %d: %s population %d", ctx.Tick, m.state.Group, n)

	m.state.Samples = append(m.state.Samples, sample{Tick: ctx.Tick, Count: n})
	if over := len(m.state.Samples) - monitorSamples; over > 0 {
		m.state.Samples = m.state.Samples[over:]
	}
	m.state.Next = ctx.Tick + uint64(m.state.Interval)
	return nil
}

func (m *monitor) HandleMessage(text string) string {
	verb, args := command(text)
	switch verb {
	case "interval":
		if len(args) != 1 {
			return "usage: interval <n>"
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Sprintf("invalid interval %q", args[0])
		}
		// Pull the next sample forward when the interval shrinks.
		if m.state.Next >= uint64(m.state.Interval) {
			if next := m.state.Next - uint64(m.state.Interval) + uint64(n); next < m.state.Next {
				m.state.Next = next
			}
		}
		m.state.Interval = n
		return fmt.Sprintf("interval set to %d", n)
	case "status":
		return m.ShortDescription()
	}
	return fmt.Sprintf("unknown command %q (interval <n> | status)", verb)
}

func (m *monitor) ShortDescription() string {
	if len(m.state.Samples) == 0 {
		return fmt.Sprintf("%s: no samples yet", m.state.Group)
	}
	last := m.state.Samples[len(m.state.Samples)-1]
	return fmt.Sprintf("%s: %d at tick %d", m.state.Group, last.Count, last.Tick)
}
