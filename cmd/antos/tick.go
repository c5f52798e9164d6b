package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/kernel"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/scheduler"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run ticks now",
	RunE:  runTick,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run ticks on the configured interval until interrupted",
	Long: `Runs the scheduler loop: one tick every scheduler.interval until SIGINT/SIGTERM,
scheduler.max_ticks ticks, or scheduler.max_consecutive_errors failed ticks in a row.`,
	RunE: runRun,
}

var (
	tickCount    int
	tickReboot   bool
	tickVerbose  bool
	runInterval  time.Duration
	runMaxTicks  int
	runRebooting bool
)

func init() {
	tickCmd.Flags().IntVarP(&tickCount, "count", "n", 1, "Number of ticks to run")
	tickCmd.Flags().BoolVar(&tickReboot, "reboot", false, "Rebuild the kernel from the database before every tick")
	tickCmd.Flags().BoolVarP(&tickVerbose, "verbose", "v", false, "Print skip and failure reasons")

	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "Override scheduler.interval")
	runCmd.Flags().IntVar(&runMaxTicks, "max-ticks", 0, "Override scheduler.max_ticks")
	runCmd.Flags().BoolVar(&runRebooting, "reboot", true, "Rebuild the kernel from the database before every tick")
}

func runTick(cmd *cobra.Command, args []string) error {
	if tickCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	rt, err := openRuntime(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer rt.Close()

	for i := 0; i < tickCount; i++ {
		report, err := rt.step(cmd.Context(), tickReboot && i > 0)
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), report, tickVerbose)
	}
	return nil
}

// step runs one tick, optionally rebuilding the kernel from the database first.
func (rt *runtime) step(ctx context.Context, reboot bool) (*kernel.TickReport, error) {
	if reboot {
		if err := rt.boot(ctx); err != nil {
			return nil, fmt.Errorf("reboot: %w", err)
		}
	}
	return rt.Tick(ctx)
}

func printReport(out io.Writer, r *kernel.TickReport, verbose bool) {
	fmt.Fprintf(out, "Tick %d: ran %d, skipped %d, failed %d, %d task steps (%s)\n",
		r.Tick, len(r.Ran), len(r.Skipped), len(r.Failed), len(r.Outcomes), r.Duration.Round(time.Microsecond))
	if !verbose {
		return
	}
	for _, id := range sortedKeys(r.Skipped) {
		fmt.Fprintf(out, "  skipped %d: %s\n", id, r.Skipped[id])
	}
	for _, id := range sortedKeys(r.Failed) {
		fmt.Fprintf(out, "  failed %d: %s\n", id, r.Failed[id])
	}
	for _, id := range r.Terminated {
		fmt.Fprintf(out, "  terminated %d\n", id)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := *rt.cfg.Scheduler
	if cmd.Flags().Changed("interval") {
		cfg.Interval = runInterval
	}
	if cmd.Flags().Changed("max-ticks") {
		cfg.MaxTicks = runMaxTicks
	}

	first := true
	sched := scheduler.New(scheduler.TickFunc(func(ctx context.Context) error {
		// Stop cancels ctx; the tick in flight still saves.
		report, err := rt.step(context.WithoutCancel(ctx), runRebooting && !first)
		first = false
		if err != nil {
			return err
		}
		rt.logger.Printf("Tick %d: ran %d, skipped %d, failed %d", report.Tick, len(report.Ran), len(report.Skipped), len(report.Failed))
		return nil
	}), &cfg, rt.logger)
	sched.Start()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interrupted := false
	select {
	case sig := <-sigCh:
		rt.logger.Printf("Received signal %v, stopping after the current tick...", sig)
		interrupted = true
	case <-sched.Done():
	}
	sched.Stop()

	if err := sched.Err(); err != nil && !interrupted && (cfg.MaxTicks == 0 || sched.Ticks() < cfg.MaxTicks) {
		return fmt.Errorf("scheduler stopped: %w", err)
	}
	return nil
}
