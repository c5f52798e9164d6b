// Package kernel owns the process table. It rebuilds processes from a snapshot,
// runs them once per tick in dependency order and writes their state back.
package kernel

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/audit"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/logging"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/pool"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/registry"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/task"
)

// SnapshotStore persists the kernel snapshot between ticks.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
}

// Auditor records kernel decisions.
type Auditor interface {
	Record(action string, inputs interface{}, outcome string, pid models.ProcessID, tick uint64, details string) (*models.Decision, error)
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithStore sets the snapshot store used by Load, Save and Tick.
func WithStore(s SnapshotStore) Option {
	return func(k *Kernel) { k.store = s }
}

// WithAuditor sets where kernel decisions are recorded.
func WithAuditor(a Auditor) Option {
	return func(k *Kernel) { k.auditor = a }
}

// WithLogger sets the logger. Diagnostics go to its diagnostic stream.
func WithLogger(l *logging.Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

// WithClock overrides the wall clock used for tick timing.
func WithClock(now func() time.Time) Option {
	return func(k *Kernel) {
		if now != nil {
			k.now = now
		}
	}
}

type entry struct {
	proc      process.Process
	record    models.ProcessRecord
	suspended bool
}

// Kernel is the process table plus everything needed to run it.
type Kernel struct {
	logger  *logging.Logger
	store   SnapshotStore
	auditor Auditor
	now     func() time.Time

	registry *registry.Registry[models.ProcessRecord, process.Process]
	types    map[string]process.Type
	codec    *task.Codec
	pool     *pool.Pool

	entries []*entry
	nextID  models.ProcessID
	tick    uint64
}

// New returns a kernel with an empty table.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		now:    time.Now,
		types:  map[string]process.Type{},
		nextID: 1,
	}
	for _, opt := range opts {
		opt(k)
	}
	k.registry = registry.New[models.ProcessRecord, process.Process]("process", k.logger)
	k.codec = task.NewCodec(k.logger)
	k.pool = pool.New(k.codec, k.logger)
	return k
}

// Register installs a process type.
func (k *Kernel) Register(t process.Type) error {
	if t.Launch == nil {
		return fmt.Errorf("process type %s: launch func is required", t.Tag)
	}
	if err := k.registry.Register(t.Tag, registry.DecodeFunc[models.ProcessRecord, process.Process](t.Decode)); err != nil {
		return err
	}
	k.types[t.Tag] = t
	return nil
}

// MustRegister panics if registration fails.
func (k *Kernel) MustRegister(t process.Type) {
	if err := k.Register(t); err != nil {
		panic(err)
	}
}

// Types returns the registered process types sorted by tag.
func (k *Kernel) Types() []process.Type {
	out := make([]process.Type, 0, len(k.types))
	for _, tag := range k.registry.Tags() {
		out = append(out, k.types[tag])
	}
	return out
}

// Pool returns the agent pool.
func (k *Kernel) Pool() *pool.Pool {
	return k.pool
}

// Codec returns the task codec.
func (k *Kernel) Codec() *task.Codec {
	return k.codec
}

// Time returns the tick the kernel last ran or booted at.
func (k *Kernel) Time() uint64 {
	return k.tick
}

// Boot replaces the table with the processes decoded from snap and returns how many
// records were dropped. A nil snapshot boots an empty table.
func (k *Kernel) Boot(snap *models.Snapshot) int {
	k.entries = nil
	k.nextID = 1
	k.tick = 0
	if snap == nil {
		k.pool.Restore(nil)
		return 0
	}
	k.tick = snap.Tick

	dropped := 0
	seen := map[models.ProcessID]bool{}
	maxID := models.ProcessID(0)
	for _, rec := range snap.Processes {
		if rec.ID > maxID {
			maxID = rec.ID
		}
		if seen[rec.ID] {
			k.logger.Fatalf("process %d (%s): duplicate id in snapshot, record dropped", rec.ID, rec.Type)
			k.record(audit.ActionDecodeDrop, rec, "duplicate", rec.ID, rec.Type)
			dropped++
			continue
		}
		proc, ok := k.registry.Decode(rec)
		if !ok {
			k.record(audit.ActionDecodeDrop, rec, "dropped", rec.ID, rec.Type)
			dropped++
			continue
		}
		seen[rec.ID] = true
		k.entries = append(k.entries, &entry{
			proc:      proc,
			record:    rec,
			suspended: rec.Status == models.ProcessStatusSuspended,
		})
	}

	k.nextID = snap.NextID
	if k.nextID <= maxID {
		k.nextID = maxID + 1
	}
	k.pool.Restore(snap.Bindings)
	return dropped
}

// Load boots from the configured store.
func (k *Kernel) Load(ctx context.Context) error {
	if k.store == nil {
		k.Boot(nil)
		return nil
	}
	snap, err := k.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if n := k.Boot(snap); n > 0 {
		k.logger.Warnf("boot dropped %d record(s)", n)
	}
	return nil
}

// Save writes the current snapshot to the configured store.
func (k *Kernel) Save(ctx context.Context) error {
	if k.store == nil {
		return nil
	}
	snap, err := k.Snapshot()
	if err != nil {
		return err
	}
	if err := k.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Snapshot returns the table and pool as plain records.
func (k *Kernel) Snapshot() (*models.Snapshot, error) {
	snap := &models.Snapshot{Tick: k.tick, NextID: k.nextID, Processes: make([]models.ProcessRecord, 0, len(k.entries))}
	for _, e := range k.entries {
		rec := e.record
		rec.Status = models.ProcessStatusRunning
		if e.suspended {
			rec.Status = models.ProcessStatusSuspended
		}
		snap.Processes = append(snap.Processes, rec)
	}
	bindings, err := k.pool.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot pool: %w", err)
	}
	snap.Bindings = bindings
	return snap, nil
}

// Launch creates a process through its type's factory and appends it to the table.
// A process launched during a tick first runs on the next tick.
func (k *Kernel) Launch(tag string, args process.Args, deps models.Dependencies) (models.ProcessID, error) {
	t, ok := k.types[tag]
	if !ok {
		return 0, fmt.Errorf("launch %q: %w", tag, ErrUnknownType)
	}
	meta := process.Meta{Type: tag, ID: k.nextID, LaunchTime: k.tick, DependsOn: deps}
	proc, err := t.Launch(meta, args)
	if err != nil {
		k.record(audit.ActionLaunch, args, "rejected", 0, err.Error())
		return 0, fmt.Errorf("launch %s: %w", tag, err)
	}
	rec, err := k.encode(proc)
	if err != nil {
		return 0, fmt.Errorf("launch %s: %w", tag, err)
	}

	k.nextID++
	k.entries = append(k.entries, &entry{proc: proc, record: rec})
	k.logger.Printf("Launched %s %d", tag, meta.ID)
	k.record(audit.ActionLaunch, args, "ok", meta.ID, tag)
	return meta.ID, nil
}

// Kill removes a process and releases its agents.
func (k *Kernel) Kill(id models.ProcessID) error {
	if err := k.remove(id); err != nil {
		return err
	}
	k.pool.ReleaseOrphans(k.isLive)
	k.record(audit.ActionKill, id, "ok", id, "")
	return nil
}

// Suspend keeps a process in the table but stops running it.
func (k *Kernel) Suspend(id models.ProcessID) error {
	e, err := k.find(id)
	if err != nil {
		return err
	}
	if e.suspended {
		return fmt.Errorf("suspend %d: %w", id, ErrAlreadySuspended)
	}
	e.suspended = true
	k.record(audit.ActionSuspend, id, "ok", id, "")
	return nil
}

// Resume undoes Suspend.
func (k *Kernel) Resume(id models.ProcessID) error {
	e, err := k.find(id)
	if err != nil {
		return err
	}
	if !e.suspended {
		return fmt.Errorf("resume %d: %w", id, ErrNotSuspended)
	}
	e.suspended = false
	k.record(audit.ActionResume, id, "ok", id, "")
	return nil
}

// ProcessInfo is a read-only view of one table entry.
type ProcessInfo struct {
	ID          models.ProcessID     `json:"id"`
	Type        string               `json:"type"`
	LaunchTime  uint64               `json:"launch_time"`
	Status      models.ProcessStatus `json:"status"`
	DependsOn   models.Dependencies  `json:"depends_on"`
	Description string               `json:"description,omitempty"`
	Agents      int                  `json:"agents"`
}

// List returns every process in table order.
func (k *Kernel) List() []ProcessInfo {
	out := make([]ProcessInfo, 0, len(k.entries))
	for _, e := range k.entries {
		out = append(out, k.info(e))
	}
	return out
}

// Get returns one process and its last persisted record.
func (k *Kernel) Get(id models.ProcessID) (ProcessInfo, models.ProcessRecord, error) {
	e, err := k.find(id)
	if err != nil {
		return ProcessInfo{}, models.ProcessRecord{}, err
	}
	return k.info(e), e.record, nil
}

// SendMessage passes console text to a process and returns its reply.
func (k *Kernel) SendMessage(id models.ProcessID, text string) (reply string, err error) {
	e, err := k.find(id)
	if err != nil {
		return "", err
	}
	h, ok := e.proc.(process.MessageHandler)
	if !ok {
		return "", fmt.Errorf("message to %d (%s): %w", id, e.record.Type, ErrNoMessageHandler)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("message to %d: panic: %v", id, r)
			}
		}()
		reply = h.HandleMessage(text)
	}()
	if err != nil {
		k.logger.Errorf("%v", err)
		return "", err
	}

	if rec, encErr := k.encode(e.proc); encErr != nil {
		k.logger.Errorf("process %d: encode after message: %v", id, encErr)
	} else {
		e.record = rec
	}
	k.record(audit.ActionMessage, text, "ok", id, "")
	return reply, nil
}

func (k *Kernel) info(e *entry) ProcessInfo {
	info := ProcessInfo{
		ID:         e.record.ID,
		Type:       e.record.Type,
		LaunchTime: e.record.LaunchTime,
		Status:     models.ProcessStatusRunning,
		DependsOn:  e.record.DependsOn,
		Agents:     len(k.pool.Owned(e.proc.Meta().Runner())),
	}
	if e.suspended {
		info.Status = models.ProcessStatusSuspended
	}
	if d, ok := e.proc.(process.Describer); ok {
		func() {
			defer func() { _ = recover() }()
			info.Description = d.ShortDescription()
		}()
	}
	return info
}

func (k *Kernel) find(id models.ProcessID) (*entry, error) {
	for _, e := range k.entries {
		if e.record.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("process %d: %w", id, ErrProcessNotFound)
}

func (k *Kernel) remove(id models.ProcessID) error {
	for i, e := range k.entries {
		if e.record.ID == id {
			k.entries = append(k.entries[:i], k.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("process %d: %w", id, ErrProcessNotFound)
}

func (k *Kernel) isLive(id models.ProcessID) bool {
	_, err := k.find(id)
	return err == nil
}

// encode calls Encode inside a recover guard.
func (k *Kernel) encode(p process.Process) (rec models.ProcessRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("encode panic: %v", r)
		}
	}()
	return p.Encode()
}

// run calls Run inside a recover guard.
func (k *Kernel) run(p process.Process, ctx *process.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			k.logger.Errorf("process %d (%s) panicked: %v\n%s", ctx.Self.ID, ctx.Self.Type, r, debug.Stack())
		}
	}()
	return p.Run(ctx)
}

func (k *Kernel) record(action string, inputs interface{}, outcome string, pid models.ProcessID, details string) {
	if k.auditor == nil {
		return
	}
	if _, err := k.auditor.Record(action, inputs, outcome, pid, k.tick, details); err != nil {
		k.logger.Warnf("audit %s: %v", action, err)
	}
}

func sortedIDs(m map[models.ProcessID]bool) []models.ProcessID {
	ids := make([]models.ProcessID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
