package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"forge/internal/api"
	"forge/internal/apiclient"
	"forge/internal/jobs"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		name       string
		domain     string
		configPath string
		templateID string
		createdBy  string
		inputs     []string
		files      []string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a build job",
		Long: "Submit a build job. --input names absolute paths under the daemon's api.input_roots;\n" +
			"--file uploads local files first and submits them as the job's inputs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.SubmitRequest{
				Name:       strings.TrimSpace(name),
				Domain:     strings.TrimSpace(domain),
				TemplateID: strings.TrimSpace(templateID),
				CreatedBy:  strings.TrimSpace(createdBy),
				Inputs:     inputs,
			}
			if req.CreatedBy == "" {
				req.CreatedBy = currentUser()
			}
			if configPath != "" {
				data, err := readInput(cmd, configPath)
				if err != nil {
					return fmt.Errorf("read job config: %w", err)
				}
				req.ConfigYAML = string(data)
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				if len(files) > 0 {
					upload, err := client.Upload(cmd.Context(), files)
					if err != nil {
						return fmt.Errorf("upload files: %w", err)
					}
					req.UploadDir = upload.UploadDir
				}
				resp, err := client.Submit(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Status == string(jobs.StatusQueued) {
					fmt.Fprintf(out, "Job %s queued (position %d)\n", resp.JobID, resp.Position)
					return nil
				}
				fmt.Fprintf(out, "Job %s started\n", resp.JobID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Job name")
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "Knowledge domain")
	cmd.Flags().StringVar(&configPath, "config-file", "", "Job config YAML (use - for stdin)")
	cmd.Flags().StringVar(&templateID, "template", "", "Template id (see forge templates); supplies the config when --config-file is absent")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "Submitter recorded on the job (defaults to the current user)")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Absolute input path under an api.input_roots directory (repeatable)")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Local file to upload as an input (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		domain   string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := apiclient.ListOptions{Domain: domain, Limit: limit, Offset: offset}
			for _, raw := range statuses {
				for _, part := range strings.Split(raw, ",") {
					if strings.TrimSpace(part) == "" {
						continue
					}
					status, ok := jobs.ParseStatus(part)
					if !ok {
						return fmt.Errorf("unknown status %q", part)
					}
					opts.Statuses = append(opts.Statuses, status)
				}
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				list, err := client.List(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Domain", "Status", "Phase", "Quality", "Cost", "Created"},
					buildJobListRows(list),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable or comma separated)")
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "Filter by domain")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many jobs")
	return cmd
}

func buildJobListRows(list []api.Job) [][]string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		status := job.Status
		if job.QueuePosition > 0 {
			status = fmt.Sprintf("%s (#%d)", status, job.QueuePosition)
		}
		rows = append(rows, []string{
			job.ID,
			job.Name,
			job.Domain,
			status,
			phaseLabel(job),
			formatScore(job.QualityScore),
			fmt.Sprintf("$%.2f", job.APICostUSD),
			job.CreatedAt,
		})
	}
	return rows
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				job, err := client.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				printJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
}

func printJob(out io.Writer, job api.Job) {
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader(job.Name, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(job.Status), displayStatus(job.Status), colorize))
	fields := []struct {
		label string
		value string
	}{
		{"ID", job.ID},
		{"Domain", job.Domain},
		{"Phase", phaseLabel(job)},
		{"Queue position", positiveInt(job.QueuePosition)},
		{"Review", job.ReviewStatus},
		{"Quality", formatScore(job.QualityScore)},
		{"Atoms extracted", optionalInt(job.AtomsExtracted)},
		{"Atoms deduplicated", optionalInt(job.AtomsDeduplicated)},
		{"Atoms verified", optionalInt(job.AtomsVerified)},
		{"Cost", fmt.Sprintf("$%.4f (%d tokens)", job.APICostUSD, job.TokensUsed)},
		{"Package", job.PackagePath},
		{"Output", job.OutputPath},
		{"Created by", job.CreatedBy},
		{"Created", job.CreatedAt},
		{"Started", job.StartedAt},
		{"Completed", job.CompletedAt},
		{"Error", job.ErrorMessage},
	}
	for _, field := range fields {
		if field.value == "" || field.value == "-" {
			continue
		}
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, field.label+":", field.value)
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "cancel <job-id>",
		Aliases: []string{"stop-job"},
		Short:   "Stop a running job or remove it from the queue",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.Stop(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				switch resp.Action {
				case api.StopActionRemoved:
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s removed from queue\n", resp.JobID)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s stopped\n", resp.JobID)
				}
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Retry a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.Retry(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printAdmission(cmd, ctx, resp, "retried")
			})
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <job-id>...",
		Aliases: []string{"rm"},
		Short:   "Delete jobs and their workspaces",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				var failed []error
				for _, id := range args {
					if err := client.Delete(cmd.Context(), id); err != nil {
						if apiclient.IsUnavailable(err) {
							return err
						}
						failed = append(failed, fmt.Errorf("%s: %w", id, err))
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s deleted\n", id)
				}
				return errors.Join(failed...)
			})
		},
	}
}

func newReviewCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "review <job-id>",
		Short: "Print the conflicts a paused job is waiting on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.Review(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() || len(resp.ReviewData) > 0 {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s has no pending review (status %s)\n", resp.JobID, resp.Status)
				return nil
			})
		},
	}
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	var resolutionsPath string

	cmd := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume a paused job with conflict resolutions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, resolutionsPath)
			if err != nil {
				return fmt.Errorf("read resolutions: %w", err)
			}
			if !json.Valid(data) {
				return errors.New("resolutions must be valid JSON")
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.Resume(cmd.Context(), args[0], json.RawMessage(data))
				if err != nil {
					return err
				}
				return printAdmission(cmd, ctx, resp, "resumed")
			})
		},
	}
	cmd.Flags().StringVarP(&resolutionsPath, "resolutions", "r", "-", "Resolutions JSON file (use - for stdin)")
	return cmd
}

func printAdmission(cmd *cobra.Command, ctx *commandContext, resp api.SubmitResponse, verb string) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, resp)
	}
	if resp.Status == string(jobs.StatusQueued) {
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s, queued at position %d\n", resp.JobID, verb, resp.Position)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s\n", resp.JobID, verb)
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if strings.TrimSpace(path) == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func phaseLabel(job api.Job) string {
	switch {
	case job.Stage != "" && job.PhaseName != "":
		return fmt.Sprintf("%s: %s (%d%%)", job.Stage, job.PhaseName, job.PhaseProgress)
	case job.PhaseName != "":
		return fmt.Sprintf("%s (%d%%)", job.PhaseName, job.PhaseProgress)
	case job.CurrentPhase != "":
		return fmt.Sprintf("%s (%d%%)", job.CurrentPhase, job.PhaseProgress)
	case job.Stage != "":
		return job.Stage
	default:
		return "-"
	}
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return strconv.FormatFloat(*score, 'f', 1, 64)
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func positiveInt(v int) string {
	if v <= 0 {
		return ""
	}
	return strconv.Itoa(v)
}
