package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"forge/internal/api"
	"forge/internal/apiclient"
	"forge/internal/broadcast"
	"forge/internal/jobs"
)

const jobLogPollInterval = time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow    bool
		lines     int
		component string
	)

	cmd := &cobra.Command{
		Use:   "logs [job-id]",
		Short: "Print job logs, or daemon logs when no job is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				if len(args) == 1 {
					return printJobLogs(cmd, client, args[0], lines, follow)
				}
				return printDaemonLogs(cmd, client, lines, follow, component)
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of lines to show")
	cmd.Flags().StringVar(&component, "component", "", "Only daemon lines from this component")
	return cmd
}

func printJobLogs(cmd *cobra.Command, client *apiclient.Client, id string, lines int, follow bool) error {
	out := cmd.OutOrStdout()
	reqCtx := cmd.Context()
	var since int64
	printed := false
	for {
		resp, err := client.JobLogs(reqCtx, id, since, lines)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		for _, entry := range resp.Logs {
			fmt.Fprintln(out, formatJobLogLine(entry))
			printed = true
		}
		if resp.Next > since {
			since = resp.Next
		}
		if len(resp.Logs) > 0 && len(resp.Logs) >= lines {
			continue
		}
		if !follow {
			if !printed {
				fmt.Fprintln(out, "No log entries available")
			}
			return nil
		}
		job, err := client.Get(reqCtx, id)
		if err == nil {
			if status, ok := jobs.ParseStatus(job.Status); ok && status.IsTerminal() {
				return nil
			}
		}
		select {
		case <-reqCtx.Done():
			return nil
		case <-time.After(jobLogPollInterval):
		}
	}
}

func formatJobLogLine(entry api.LogEntry) string {
	var b strings.Builder
	b.WriteString(entry.Timestamp)
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%-5s", strings.ToUpper(entry.Level)))
	if entry.Phase != "" {
		b.WriteString(" [")
		b.WriteString(entry.Phase)
		b.WriteString("]")
	}
	b.WriteString(" ")
	b.WriteString(entry.Message)
	return b.String()
}

func printDaemonLogs(cmd *cobra.Command, client *apiclient.Client, lines int, follow bool, component string) error {
	out := cmd.OutOrStdout()
	reqCtx := cmd.Context()
	query := apiclient.LogQuery{Limit: lines, Tail: true, Component: component}
	printed := false
	for {
		resp, err := client.DaemonLogs(reqCtx, query)
		if err != nil {
			if reqCtx.Err() != nil {
				return nil
			}
			return err
		}
		for _, event := range resp.Events {
			fmt.Fprintln(out, formatDaemonLogLine(event))
			printed = true
		}
		if resp.Next > query.Since {
			query.Since = resp.Next
		}
		if !follow {
			if !printed {
				fmt.Fprintln(out, "No log entries available")
			}
			return nil
		}
		query.Tail = false
		query.Follow = true
		query.Limit = 0
	}
}

func formatDaemonLogLine(event api.LogEvent) string {
	var b strings.Builder
	b.WriteString(event.Timestamp)
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%-5s", strings.ToUpper(event.Level)))
	if event.Component != "" {
		b.WriteString(" [")
		b.WriteString(event.Component)
		b.WriteString("]")
	}
	if event.JobID != "" {
		b.WriteString(" job=")
		b.WriteString(event.JobID)
	}
	b.WriteString(" ")
	b.WriteString(event.Message)
	if len(event.Fields) > 0 {
		keys := make([]string, 0, len(event.Fields))
		for k := range event.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(" ")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(event.Fields[k])
		}
	}
	return b.String()
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream a job's live events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return ctx.withClient(func(client *apiclient.Client) error {
				err := client.Watch(cmd.Context(), args[0], func(msg api.StreamMessage) error {
					if ctx.jsonOutput() {
						return writeJSON(cmd, msg)
					}
					printStreamMessage(out, msg)
					return nil
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func printStreamMessage(out io.Writer, msg api.StreamMessage) {
	switch msg.Event {
	case broadcast.EventState:
		var p broadcast.StatePayload
		if json.Unmarshal(msg.Data, &p) == nil {
			fmt.Fprintf(out, "state    %s phase=%s progress=%d%%\n", p.Status, valueOr(p.CurrentPhase, "-"), p.PhaseProgress)
			return
		}
	case broadcast.EventLog:
		var p broadcast.LogPayload
		if json.Unmarshal(msg.Data, &p) == nil {
			fmt.Fprintf(out, "log      %-5s %s\n", strings.ToUpper(p.Level), p.Message)
			return
		}
	case broadcast.EventPhase:
		var p broadcast.PhasePayload
		if json.Unmarshal(msg.Data, &p) == nil {
			fmt.Fprintf(out, "phase    %s %s %d%%\n", valueOr(p.Name, p.Phase), p.Status, p.Progress)
			return
		}
	case broadcast.EventPreStep:
		var p broadcast.PreStepPayload
		if json.Unmarshal(msg.Data, &p) == nil {
			fmt.Fprintf(out, "pre-step %s %s\n", p.Label, p.Status)
			return
		}
	case broadcast.EventQuality:
		var p broadcast.QualityPayload
		if json.Unmarshal(msg.Data, &p) == nil {
			fmt.Fprintf(out, "quality  phase=%s score=%s\n", valueOr(p.Phase, "-"), formatScore(firstScore(p.Score, p.QualityScore)))
			return
		}
	case broadcast.EventCost:
		var p broadcast.CostPayload
		if json.Unmarshal(msg.Data, &p) == nil {
			fmt.Fprintf(out, "cost     $%.4f (%d tokens)\n", p.APICostUSD, p.TokensUsed)
			return
		}
	case broadcast.EventConflict:
		var p broadcast.ConflictPayload
		if json.Unmarshal(msg.Data, &p) == nil {
			fmt.Fprintf(out, "conflict %d conflicts await review (run `forge review`)\n", p.Count)
			return
		}
	case broadcast.EventPackage:
		var p broadcast.PackagePayload
		if json.Unmarshal(msg.Data, &p) == nil {
			fmt.Fprintf(out, "package  %s\n", p.Path)
			return
		}
	case broadcast.EventError:
		var p broadcast.ErrorPayload
		if json.Unmarshal(msg.Data, &p) == nil {
			fmt.Fprintf(out, "error    %s (retryable=%s)\n", p.Message, yesNo(p.Retryable))
			return
		}
	case broadcast.EventComplete:
		var p broadcast.CompletePayload
		if json.Unmarshal(msg.Data, &p) == nil {
			fmt.Fprintf(out, "complete %s %s\n", p.Status, p.Reason)
			return
		}
	}
	fmt.Fprintf(out, "%-8s %s\n", msg.Event, string(msg.Data))
}

func firstScore(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
