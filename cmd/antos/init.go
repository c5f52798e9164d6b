package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/config"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Seed the world and launch the bootstrap processes",
	Long: `Creates the data directory, loads the world from the scenario file and launches
every process listed under bootstrap in the config. A config file is written with the
defaults if none exists yet.`,
	RunE: runInit,
}

var (
	initScenario string
	initForce    bool
)

func init() {
	initCmd.Flags().StringVar(&initScenario, "scenario", "", "Scenario file (overrides the configured world)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reset an already initialized data directory")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if initScenario != "" {
		cfg.World = initScenario
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := config.Save(configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
		}
	}

	rt, err := openRuntimeWith(cmd.Context(), cfg, true, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	return initialize(cmd.Context(), rt, initForce, cmd.OutOrStdout())
}

// initialize resets the world and the process table, then launches the bootstrap
// processes in config order.
func initialize(ctx context.Context, rt *runtime, force bool, out io.Writer) error {
	snap, err := rt.store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap != nil && !force {
		return fmt.Errorf("%s is already initialized (use --force to reset)", rt.cfg.DataDir)
	}

	w := world.NewSim()
	if rt.cfg.World != "" {
		if w, err = world.LoadScenario(rt.cfg.World); err != nil {
			return err
		}
	}
	rt.world = w
	rt.kernel.Boot(nil)

	for i, spec := range rt.cfg.Bootstrap {
		kv, deps := spec.LaunchArgs()
		id, err := rt.kernel.Launch(spec.Type, kv, deps)
		if err != nil {
			return fmt.Errorf("bootstrap[%d] %s: %w", i, spec.Type, err)
		}
		fmt.Fprintf(out, "Launched %s %d\n", spec.Type, id)
	}

	if err := rt.kernel.Save(ctx); err != nil {
		return err
	}
	if err := rt.saveWorld(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Initialized %s (%d agents, %d objects, %d processes)\n",
		rt.cfg.DataDir, len(w.Agents("")), len(w.Objects()), len(rt.cfg.Bootstrap))
	return nil
}
