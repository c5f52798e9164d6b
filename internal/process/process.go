// Package process defines the contract between the kernel and long-lived processes.
package process

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/logging"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/pool"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/task"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

// Process is a unit of work that survives ticks only through its encoded record.
type Process interface {
	Meta() Meta
	Encode() (models.ProcessRecord, error)
	Run(ctx *Context) error
}

// MessageHandler is implemented by processes that accept console text.
type MessageHandler interface {
	HandleMessage(text string) string
}

// Describer is implemented by processes with a one-line status summary.
type Describer interface {
	ShortDescription() string
}

// Meta is the kernel-owned part of a process record.
type Meta struct {
	Type       string
	ID         models.ProcessID
	LaunchTime uint64
	DependsOn  models.Dependencies
}

// MetaFromRecord extracts the kernel-owned fields of rec.
func MetaFromRecord(rec models.ProcessRecord) Meta {
	return Meta{Type: rec.Type, ID: rec.ID, LaunchTime: rec.LaunchTime, DependsOn: rec.DependsOn}
}

// Runner returns the pool runner identifier of the process.
func (m Meta) Runner() string {
	return fmt.Sprintf("%s#%d", m.Type, m.ID)
}

// Record builds a record around state, which is marshalled to JSON.
func (m Meta) Record(state interface{}) (models.ProcessRecord, error) {
	rec := models.ProcessRecord{
		Type:       m.Type,
		ID:         m.ID,
		LaunchTime: m.LaunchTime,
		DependsOn:  m.DependsOn,
	}
	if state != nil {
		data, err := json.Marshal(state)
		if err != nil {
			return rec, fmt.Errorf("marshal %s state: %w", m.Type, err)
		}
		rec.State = data
	}
	return rec, nil
}

// DecodeState unmarshals the state of rec into v.
func DecodeState(rec models.ProcessRecord, v interface{}) error {
	if len(rec.State) == 0 {
		return fmt.Errorf("%s %d: empty state", rec.Type, rec.ID)
	}
	if err := json.Unmarshal(rec.State, v); err != nil {
		return fmt.Errorf("%s %d: %w", rec.Type, rec.ID, err)
	}
	return nil
}

// Factory constructs a new process at launch.
type Factory func(meta Meta, args Args) (Process, error)

// Decoder rebuilds a process from its record.
type Decoder func(rec models.ProcessRecord) (Process, error)

// Type bundles everything the kernel needs to know about one process type.
type Type struct {
	Tag     string
	Summary string
	Decode  Decoder
	Launch  Factory
}

// Launcher starts new processes from inside a tick.
type Launcher interface {
	Launch(tag string, args Args, deps models.Dependencies) (models.ProcessID, error)
}

// Context carries the per-tick values a process runs with.
type Context struct {
	Tick   uint64
	Self   Meta
	World  world.World
	Pool   *pool.Pool
	Log    *logging.Logger
	Kernel Launcher

	terminate bool
}

// TaskContext returns the context tasks run with.
func (c *Context) TaskContext() task.Context {
	return task.Context{Tick: c.Tick, World: c.World}
}

// Terminate removes the calling process from the table at the end of the tick.
func (c *Context) Terminate() {
	c.terminate = true
}

// Terminated reports whether Terminate was called.
func (c *Context) Terminated() bool {
	return c.terminate
}

// Args are launch arguments given as key=value pairs.
type Args map[string]string

// ParseArgs parses key=value words.
func ParseArgs(words []string) (Args, error) {
	args := Args{}
	for _, w := range words {
		k, v, ok := strings.Cut(w, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("argument %q is not key=value", w)
		}
		args[k] = v
	}
	return args, nil
}

// String returns the value of key, or def when absent.
func (a Args) String(key, def string) string {
	if v, ok := a[key]; ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer value of key, or def when absent.
func (a Args) Int(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %w", key, err)
	}
	return n, nil
}

// Require returns an error naming the first missing key.
func (a Args) Require(keys ...string) error {
	for _, k := range keys {
		if a[k] == "" {
			return fmt.Errorf("missing argument %s", k)
		}
	}
	return nil
}

func (a Args) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
