package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/audit"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/config"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/kernel"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/lock"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/logging"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/pool"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/processes"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/store"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

// runtime is one opened data directory. Every mutating call saves before returning,
// so the next invocation boots into the same state.
type runtime struct {
	cfg    *config.Config
	logger *logging.Logger
	lock   *lock.Lock
	store  *store.Store
	world  *world.Sim
	kernel *kernel.Kernel
}

func configHomePath() (string, error) {
	return config.HomePath()
}

// loadConfig reads --config and applies --data-dir.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromHome()
	}
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

func openRuntime(ctx context.Context, mutating bool) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openRuntimeWith(ctx, cfg, mutating, os.Stdout, os.Stderr)
}

// openRuntimeWith opens cfg's data directory. A mutating runtime holds the data-dir
// lock until Close.
func openRuntimeWith(ctx context.Context, cfg *config.Config, mutating bool, status, diag io.Writer) (*runtime, error) {
	rt := &runtime{cfg: cfg}
	if mutating {
		l, err := lock.Acquire(cfg.LockPath())
		if err != nil {
			return nil, err
		}
		rt.lock = l
	}

	logger, err := logging.Open(cfg.LogPath(), status, diag)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.logger = logger

	s, err := store.New(cfg.DatabasePath())
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = s

	w, err := loadWorld(ctx, s, cfg.World)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.world = w

	if err := rt.boot(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// loadWorld prefers the saved world, then the scenario file, then an empty world.
func loadWorld(ctx context.Context, s *store.Store, scenario string) (*world.Sim, error) {
	data, err := s.LoadWorld(ctx)
	if err != nil {
		return nil, err
	}
	if data != nil {
		w := world.NewSim()
		if err := json.Unmarshal(data, w); err != nil {
			return nil, fmt.Errorf("decode saved world: %w", err)
		}
		return w, nil
	}
	if scenario != "" {
		return world.LoadScenario(scenario)
	}
	return world.NewSim(), nil
}

// boot throws away the in-memory kernel and rebuilds it from the stored snapshot.
func (rt *runtime) boot(ctx context.Context) error {
	k := kernel.New(
		kernel.WithStore(rt.store),
		kernel.WithAuditor(audit.NewWriter(rt.store)),
		kernel.WithLogger(rt.logger),
	)
	if err := processes.Register(k); err != nil {
		return err
	}
	if err := k.Load(ctx); err != nil {
		return err
	}
	rt.kernel = k
	return nil
}

func (rt *runtime) saveWorld(ctx context.Context) error {
	data, err := json.Marshal(rt.world)
	if err != nil {
		return fmt.Errorf("encode world: %w", err)
	}
	return rt.store.SaveWorld(ctx, data)
}

// Close releases the store, the log file and the lock.
func (rt *runtime) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if rt.store != nil {
		keep(rt.store.Close())
	}
	keep(rt.logger.Close())
	keep(rt.lock.Release())
	return first
}

// Tick runs one kernel tick against the world, advances world time and records the
// tick. The kernel saves its own snapshot.
func (rt *runtime) Tick(ctx context.Context) (*kernel.TickReport, error) {
	report, err := rt.kernel.Tick(ctx, rt.world)
	if err != nil {
		return nil, err
	}
	rt.world.Advance()
	if err := rt.saveWorld(ctx); err != nil {
		return report, err
	}
	if err := rt.store.RecordTick(ctx, report.Summary(), rt.cfg.Kernel.HistoryLimit); err != nil {
		return report, fmt.Errorf("record tick: %w", err)
	}
	return report, nil
}

func (rt *runtime) save() error {
	return rt.kernel.Save(context.Background())
}

func (rt *runtime) List() []kernel.ProcessInfo {
	return rt.kernel.List()
}

func (rt *runtime) Get(id models.ProcessID) (kernel.ProcessInfo, models.ProcessRecord, error) {
	return rt.kernel.Get(id)
}

func (rt *runtime) Bindings() []pool.Binding {
	return rt.kernel.Pool().Bindings()
}

func (rt *runtime) Types() []process.Type {
	return rt.kernel.Types()
}

// Time is the tick the next Tick call will run.
func (rt *runtime) Time() uint64 {
	return rt.world.Time()
}

func (rt *runtime) Launch(tag string, args process.Args, deps models.Dependencies) (models.ProcessID, error) {
	id, err := rt.kernel.Launch(tag, args, deps)
	if err != nil {
		return 0, err
	}
	return id, rt.save()
}

func (rt *runtime) Kill(id models.ProcessID) error {
	if err := rt.kernel.Kill(id); err != nil {
		return err
	}
	return rt.save()
}

func (rt *runtime) Suspend(id models.ProcessID) error {
	if err := rt.kernel.Suspend(id); err != nil {
		return err
	}
	return rt.save()
}

func (rt *runtime) Resume(id models.ProcessID) error {
	if err := rt.kernel.Resume(id); err != nil {
		return err
	}
	return rt.save()
}

func (rt *runtime) SendMessage(id models.ProcessID, text string) (string, error) {
	reply, err := rt.kernel.SendMessage(id, text)
	if err != nil {
		return "", err
	}
	return reply, rt.save()
}
