package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"forge/internal/daemonctl"
	"forge/internal/deps"
	"forge/internal/jobs"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startDiagnostic bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the forge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				cmd.Context(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx, startDiagnostic),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
	startCmd.Flags().BoolVar(&startDiagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the forge daemon (running jobs are marked failed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.configValue(), stopGrace(ctx))
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time, killed process %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency and job status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, snap)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if snap.Status.Running {
				fmt.Fprintln(stdout, renderStatusLine("Forge", statusOK, fmt.Sprintf("Running (pid %d)", snap.Status.PID), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Workers", statusInfo,
					fmt.Sprintf("%d/%d running, %d queued", len(snap.Status.RunningJobs), snap.Status.MaxConcurrent, len(snap.Status.Queue)), colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Forge", statusWarn, "Not running (run `forge start`)", colorize))
			}
			for _, check := range snap.Status.Checks {
				kind := statusOK
				if !check.Passed {
					kind = statusWarn
				}
				fmt.Fprintln(stdout, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range dependencyLines(snap.Status.Dependencies, snap.DependencySummary, colorize) {
				fmt.Fprintln(stdout, line)
			}

			if len(snap.Status.RunningJobs) > 0 {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Running Jobs", colorize) {
					fmt.Fprintln(stdout, line)
				}
				rows := make([][]string, 0, len(snap.Status.RunningJobs))
				for _, job := range snap.Status.RunningJobs {
					pid := "-"
					if job.PID > 0 {
						pid = strconv.Itoa(job.PID)
					}
					rows = append(rows, []string{job.JobID, job.Mode, job.Stage, pid, job.StartedAt})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Job", "Mode", "Stage", "PID", "Started"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Job Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildJobStatusRows(snap.Stats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No jobs")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}

	var restartDiagnostic bool
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the forge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				cmd.Context(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx, restartDiagnostic),
				stopGrace(ctx),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Daemon did not exit in time, killed process %d\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}
	restartCmd.Flags().BoolVar(&restartDiagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

// buildJobStatusRows lists non-zero counts in lifecycle order, then any
// statuses the daemon reported that this build does not know.
func buildJobStatusRows(stats map[string]int) [][]string {
	rows := make([][]string, 0, len(stats))
	seen := make(map[string]bool, len(stats))
	for _, status := range jobs.AllStatuses() {
		key := string(status)
		seen[key] = true
		if count := stats[key]; count > 0 {
			rows = append(rows, []string{displayStatus(key), strconv.Itoa(count)})
		}
	}
	var extra []string
	for key, count := range stats {
		if !seen[key] && count > 0 {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		rows = append(rows, []string{displayStatus(key), strconv.Itoa(stats[key])})
	}
	return rows
}

func dependencyLines(statuses []deps.Status, summary daemonctl.DependencySummary, colorize bool) []string {
	lines := make([]string, 0, len(statuses)+2)
	lines = append(lines, renderStatusLine("Summary", statusKindFromSeverity(summary.Severity), summary.Detail, colorize))
	missing := make([]string, 0)
	for _, dep := range statuses {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}

		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		missing = append(missing, dep.Name)
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, diagnostic bool) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{Diagnostic: diagnostic}
	if ctx.configFlag != nil {
		if path := strings.TrimSpace(*ctx.configFlag); path != "" {
			opts.ConfigPath = path
		}
	}
	if cfg := ctx.configValue(); cfg != nil {
		opts.LogPath = filepath.Join(cfg.Paths.LogDir, "daemon-console.log")
	}
	return opts
}

// stopGrace leaves the daemon time to stop its own workers before SIGKILL.
func stopGrace(ctx *commandContext) time.Duration {
	grace := 10 * time.Second
	if cfg := ctx.configValue(); cfg != nil {
		grace += 2 * time.Duration(cfg.Worker.StopGraceSeconds) * time.Second
	}
	return grace
}
