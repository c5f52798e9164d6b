package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/tui"
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Launch the interactive process table",
	RunE:  runTop,
}

func runTop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Status lines would tear the alt screen, so only kernel.log receives output.
	rt, err := openRuntimeWith(cmd.Context(), cfg, true, nil, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	app := tui.New(rt, cfg.TUI.Refresh)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
