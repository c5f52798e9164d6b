package tui

import (
	"context"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/kernel"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/pool"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
)

// Runtime is what the TUI drives. Mutating calls are expected to persist their result.
type Runtime interface {
	List() []kernel.ProcessInfo
	Get(id models.ProcessID) (kernel.ProcessInfo, models.ProcessRecord, error)
	Bindings() []pool.Binding
	Types() []process.Type
	Time() uint64

	Tick(ctx context.Context) (*kernel.TickReport, error)
	Launch(tag string, args process.Args, deps models.Dependencies) (models.ProcessID, error)
	Kill(id models.ProcessID) error
	Suspend(id models.ProcessID) error
	Resume(id models.ProcessID) error
	SendMessage(id models.ProcessID, text string) (string, error)
}

// snapshot is what the views render. It is refreshed after every runtime call.
type snapshot struct {
	time     uint64
	procs    []kernel.ProcessInfo
	bindings []pool.Binding
	types    []process.Type
}

func takeSnapshot(rt Runtime) snapshot {
	return snapshot{
		time:     rt.Time(),
		procs:    rt.List(),
		bindings: rt.Bindings(),
		types:    rt.Types(),
	}
}
