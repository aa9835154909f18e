package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kiln/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage generation jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsSubmitCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				jobs, err := client.ListJobs(cmd.Context(), strings.TrimSpace(statusFilter))
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						job.Type,
						job.Status,
						job.Priority,
						fmt.Sprintf("%.0f%%", job.Progress*100),
						job.CreatedAt.Local().Format(time.RFC3339),
					})
				}
				table := renderTable(
					[]string{"ID", "Type", "Status", "Priority", "Progress", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by job status")
	return cmd
}

func newJobsSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		jobType  string
		priority string
		input    string
		assetID  string
		name     string
	)

	cmd := &cobra.Command{
		Use:     "submit",
		Aliases: []string{"add"},
		Short:   "Enqueue a new generation job",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{}
			if input != "" {
				payload["input_path"] = input
			}
			if assetID != "" {
				payload["asset_id"] = assetID
			}
			if name != "" {
				payload["name"] = name
			}
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.CreateJob(cmd.Context(), api.CreateJobRequest{
					Type:     jobType,
					Priority: priority,
					Payload:  payload,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s job %s (%s priority)\n", job.Type, job.ID, job.Priority)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&jobType, "type", "mesh_generation", "Job type")
	cmd.Flags().StringVar(&priority, "priority", "normal", "Job priority (high, normal, low)")
	cmd.Flags().StringVar(&input, "input", "", "Input image path")
	cmd.Flags().StringVar(&assetID, "asset", "", "Asset id for downstream stages")
	cmd.Flags().StringVar(&name, "name", "", "Asset display name")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job's full state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, job)
			})
		},
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.CancelJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", job.ID)
				return nil
			})
		},
	}
}
