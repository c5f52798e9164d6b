package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/kernel"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/pool"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
)

var launchCmd = &cobra.Command{
	Use:   "launch <type> [key=value...]",
	Short: "Launch a process",
	Long: `Launches a process of the given type. Arguments are key=value pairs read by the
type's launcher. The process first runs on the next tick.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLaunch,
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List processes",
	RunE:  runPs,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a process record and its agents",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var killCmd = &cobra.Command{
	Use:   "kill <id>",
	Short: "Remove a process and release its agents",
	Args:  cobra.ExactArgs(1),
	RunE:  runKill,
}

var suspendCmd = &cobra.Command{
	Use:   "suspend <id>",
	Short: "Stop running a process without removing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuspend,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Run a suspended process again",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

var messageCmd = &cobra.Command{
	Use:     "message <id> <text...>",
	Aliases: []string{"msg"},
	Short:   "Send a text command to a process",
	Args:    cobra.MinimumNArgs(2),
	RunE:    runMessage,
}

var (
	launchAfter     []string
	launchAfterType []string
)

func init() {
	launchCmd.Flags().StringSliceVar(&launchAfter, "after", nil, "Process ids that must be running first")
	launchCmd.Flags().StringSliceVar(&launchAfterType, "after-type", nil, "Process types that must be running first")
}

func runLaunch(cmd *cobra.Command, args []string) error {
	kv, err := process.ParseArgs(args[1:])
	if err != nil {
		return err
	}
	deps, err := parseDeps(launchAfter, launchAfterType)
	if err != nil {
		return err
	}

	rt, err := openRuntime(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer rt.Close()

	id, err := rt.Launch(args[0], kv, deps)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Launched %s %d\n", args[0], id)
	return nil
}

func parseDeps(ids, types []string) (models.Dependencies, error) {
	var deps models.Dependencies
	for _, s := range ids {
		id, err := models.ParseProcessID(s)
		if err != nil {
			return deps, fmt.Errorf("--after %s: %w", s, err)
		}
		deps.Processes = append(deps.Processes, id)
	}
	deps.Types = append(deps.Types, types...)
	return deps, nil
}

func runPs(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer rt.Close()

	procs := rt.List()
	if len(procs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No processes")
		return nil
	}
	printProcesses(cmd.OutOrStdout(), procs)
	return nil
}

func printProcesses(out io.Writer, procs []kernel.ProcessInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tTYPE\tSTATUS\tLAUNCHED\tAGENTS\tDEPENDS\tDESCRIPTION")
	for _, p := range procs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			p.ID, p.Type, p.Status, p.LaunchTime, p.Agents, formatDeps(p.DependsOn), truncate(p.Description, 50))
	}
	w.Flush()
}

func formatDeps(d models.Dependencies) string {
	if d.Empty() {
		return "-"
	}
	var parts []string
	for _, id := range d.Processes {
		parts = append(parts, id.String())
	}
	for _, t := range d.Types {
		parts = append(parts, "type:"+t)
	}
	return strings.Join(parts, ",")
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := models.ParseProcessID(args[0])
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer rt.Close()

	info, rec, err := rt.Get(id)
	if err != nil {
		return fmt.Errorf("process %d: %w", id, err)
	}
	printProcess(cmd.OutOrStdout(), info, rec, rt.Bindings())
	return nil
}

func printProcess(out io.Writer, info kernel.ProcessInfo, rec models.ProcessRecord, bindings []pool.Binding) {
	fmt.Fprintf(out, "PID:         %d\n", info.ID)
	fmt.Fprintf(out, "Type:        %s\n", info.Type)
	fmt.Fprintf(out, "Status:      %s\n", info.Status)
	fmt.Fprintf(out, "Launched:    tick %d\n", info.LaunchTime)
	fmt.Fprintf(out, "Depends on:  %s\n", formatDeps(info.DependsOn))
	if info.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", info.Description)
	}

	state := string(rec.State)
	var buf bytes.Buffer
	if json.Indent(&buf, rec.State, "", "  ") == nil {
		state = buf.String()
	}
	fmt.Fprintf(out, "State:\n%s\n", state)

	var owned []pool.Binding
	for _, b := range bindings {
		if b.Home == info.ID {
			owned = append(owned, b)
		}
	}
	if len(owned) == 0 {
		return
	}
	fmt.Fprintln(out)
	printBindings(out, owned)
}

func printBindings(out io.Writer, bindings []pool.Binding) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tGROUP\tHOME\tPRIORITY\tTASK\tLAST")
	for _, b := range bindings {
		home := "-"
		if b.Home != 0 {
			home = b.Home.String()
		}
		task := "idle"
		if b.Task != nil {
			task = b.Task.Describe()
		}
		last := ""
		if b.Last != nil {
			last = b.Last.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", b.AgentID, b.Group, home, b.Priority, truncate(task, 50), last)
	}
	w.Flush()
}

func runKill(cmd *cobra.Command, args []string) error {
	return changeProcess(cmd, args[0], "Killed", (*runtime).Kill)
}

func runSuspend(cmd *cobra.Command, args []string) error {
	return changeProcess(cmd, args[0], "Suspended", (*runtime).Suspend)
}

func runResume(cmd *cobra.Command, args []string) error {
	return changeProcess(cmd, args[0], "Resumed", (*runtime).Resume)
}

func changeProcess(cmd *cobra.Command, arg, verb string, change func(*runtime, models.ProcessID) error) error {
	id, err := models.ParseProcessID(arg)
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := change(rt, id); err != nil {
		return fmt.Errorf("process %d: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s process %d\n", verb, id)
	return nil
}

func runMessage(cmd *cobra.Command, args []string) error {
	id, err := models.ParseProcessID(args[0])
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer rt.Close()

	reply, err := rt.SendMessage(id, strings.Join(args[1:], " "))
	if err != nil {
		return fmt.Errorf("process %d: %w", id, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
