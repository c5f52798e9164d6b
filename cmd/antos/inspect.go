package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/processes"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/store"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Show kernel decision records",
	RunE:  runDecisions,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent tick summaries",
	RunE:  runHistory,
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List launchable process types",
	RunE:  runTypes,
}

var worldCmd = &cobra.Command{
	Use:   "world",
	Short: "Show agents and objects in the world",
	RunE:  runWorld,
}

var (
	decisionsPID   int64
	decisionsLimit int
	historyLimit   int
	worldGroup     string
)

func init() {
	decisionsCmd.Flags().Int64Var(&decisionsPID, "pid", 0, "Only show decisions about this process")
	decisionsCmd.Flags().IntVar(&decisionsLimit, "limit", 20, "Maximum number of records")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of ticks")
	worldCmd.Flags().StringVar(&worldGroup, "group", "", "Only show agents of this group")
}

// openStore opens the database without the lock or a kernel.
func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.New(cfg.DatabasePath())
}

func runDecisions(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	decisions, err := s.ListDecisions(cmd.Context(), models.ProcessID(decisionsPID), decisionsLimit)
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No decisions recorded")
		return nil
	}
	printDecisions(cmd.OutOrStdout(), decisions)
	return nil
}

func printDecisions(out io.Writer, decisions []models.Decision) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTICK\tPID\tACTION\tOUTCOME\tINPUTS\tDETAILS")
	for _, d := range decisions {
		pid := "-"
		if d.ProcessID != 0 {
			pid = d.ProcessID.String()
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			d.Timestamp.Local().Format(time.DateTime), d.Tick, pid, d.Action, d.Outcome,
			truncate(d.InputsHash, 12), truncate(d.Details, 40))
	}
	w.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ticks, err := s.ListTicks(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No ticks recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICK\tRAN\tSKIPPED\tFAILED\tTASKS\tDURATION\tSTARTED")
	for _, t := range ticks {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			t.Tick, t.Ran, t.Skipped, t.Failed, t.Tasks, t.Duration.Round(time.Microsecond),
			t.StartedAt.Local().Format(time.DateTime))
	}
	w.Flush()
	return nil
}

func runTypes(cmd *cobra.Command, args []string) error {
	printTypes(cmd.OutOrStdout(), processes.Types())
	return nil
}

func printTypes(out io.Writer, types []process.Type) {
	sort.Slice(types, func(i, j int) bool { return types[i].Tag < types[j].Tag })
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tSUMMARY")
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%s\n", t.Tag, t.Summary)
	}
	w.Flush()
}

func runWorld(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer rt.Close()

	printWorld(cmd.OutOrStdout(), rt.world, worldGroup)
	return nil
}

func printWorld(out io.Writer, w *world.Sim, group string) {
	fmt.Fprintf(out, "Time: %d\n\n", w.Time())

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tGROUP\tPOSITION\tBODY\tCARRY")
	for _, a := range w.Agents(group) {
		body := strings.Join(a.Body, ",")
		if a.Spawning {
			body += " (spawning)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\n", a.ID, a.Group, a.Pos, body, a.Carry, a.Capacity)
	}
	tw.Flush()

	if group != "" {
		return
	}
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OBJECT\tKIND\tPOSITION\tAMOUNT\tHP\tPROGRESS")
	for _, o := range w.Objects() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", o.ID, o.Kind, o.Pos,
			ratio(o.Amount, o.Capacity), ratio(o.HP, o.MaxHP), ratio(o.Progress, o.ProgressTotal))
	}
	tw.Flush()
}

func ratio(n, total int) string {
	if total == 0 {
		if n == 0 {
			return "-"
		}
		return fmt.Sprint(n)
	}
	return fmt.Sprintf("%d/%d", n, total)
}

func sortedKeys[V any](m map[models.ProcessID]V) []models.ProcessID {
	ids := make([]models.ProcessID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
