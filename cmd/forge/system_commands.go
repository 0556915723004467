package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"forge/internal/api"
	"forge/internal/apiclient"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				stats, err := client.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				rows := [][]string{
					{"Total jobs", strconv.Itoa(stats.Total)},
					{"Running", strconv.Itoa(stats.Running)},
					{"Queued", strconv.Itoa(stats.QueueLength)},
					{"Average quality", formatScore(stats.AvgQuality)},
					{"Verified atoms", strconv.FormatInt(stats.TotalAtoms, 10)},
					{"API cost", fmt.Sprintf("$%.2f", stats.TotalCost)},
					{"Tokens", strconv.FormatInt(stats.TotalTokens, 10)},
				}
				fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				if statusRows := buildJobStatusRows(stats.ByStatus); len(statusRows) > 0 {
					fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, statusRows, []columnAlignment{alignLeft, alignRight}))
				}
				return nil
			})
		},
	}
}

func newBaselinesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "baselines",
		Short: "List pre-scraped domain baselines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				baselines, err := client.Baselines(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, baselines)
				}
				if len(baselines) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No baselines")
					return nil
				}
				rows := make([][]string, 0, len(baselines))
				for _, b := range baselines {
					scraped := "-"
					if b.LastScrapedAt != nil {
						scraped = b.LastScrapedAt.Format("2006-01-02 15:04")
					}
					rows = append(rows, []string{b.Domain, b.Name, string(b.Status), strconv.Itoa(b.RefsCount), scraped, b.OutputDir})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Domain", "Name", "Status", "Refs", "Scraped", "Output"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List job templates usable with submit --template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				templates, err := client.Templates(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, templates)
				}
				if len(templates) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No templates")
					return nil
				}
				rows := make([][]string, 0, len(templates))
				for _, t := range templates {
					rows = append(rows, []string{t.ID, t.Name, t.Domain, strconv.Itoa(t.UsageCount), t.Description})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Domain", "Used", "Description"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired jobs and stale uploads now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Deleted %d jobs, %d uploads, freed %s\n", len(resp.DeletedJobs), resp.RemovedUploads, formatBytes(resp.FreedBytes))
				for _, msg := range resp.Errors {
					fmt.Fprintf(out, "  warning: %s\n", msg)
				}
				return nil
			})
		},
	}
}

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "View or change runtime settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				settings, err := client.Settings(cmd.Context())
				if err != nil {
					return err
				}
				return printSettings(cmd, ctx, settings)
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key>=<value>...",
		Short: "Update runtime settings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := parseSettingAssignments(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				settings, err := client.UpdateSettings(cmd.Context(), update)
				if err != nil {
					return err
				}
				return printSettings(cmd, ctx, settings)
			})
		},
	}

	settingsCmd.AddCommand(setCmd)
	return settingsCmd
}

func parseSettingAssignments(args []string) (api.SettingsUpdate, error) {
	update := api.SettingsUpdate{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid setting %q (expected key=value)", arg)
		}
		update[key] = value
	}
	return update, nil
}

func printSettings(cmd *cobra.Command, ctx *commandContext, settings []api.Setting) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, settings)
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })
	rows := make([][]string, 0, len(settings))
	for _, s := range settings {
		rows = append(rows, []string{s.Key, s.Value, s.Description})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value", "Description"}, rows, nil))
	return nil
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				if err := client.TestNotification(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
				return nil
			})
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
