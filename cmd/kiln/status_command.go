package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"kiln/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}
				renderStatus(cmd, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit status as JSON")
	return cmd
}

func renderStatus(cmd *cobra.Command, status api.DaemonStatus) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	runningKind := statusError
	runningMsg := "not running"
	if status.Running {
		runningKind = statusOK
		runningMsg = fmt.Sprintf("pid %d", status.PID)
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", runningKind, runningMsg, colorize))
	fmt.Fprintln(out, renderStatusLine("Worker", statusInfo, status.WorkerState, colorize))
	fmt.Fprintln(out, renderStatusLine("Connections", statusInfo, strconv.Itoa(status.Connections), colorize))

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Queue", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Pending", "Processing", "Completed", "Failed", "Cancelled"},
		[][]string{{
			strconv.Itoa(status.Queue.PendingCount),
			strconv.Itoa(status.Queue.ProcessingCount),
			strconv.Itoa(status.Queue.CompletedCount),
			strconv.Itoa(status.Queue.FailedCount),
			strconv.Itoa(status.Queue.CancelledCount),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	if status.Queue.CurrentJobID != "" {
		fmt.Fprintln(out, renderStatusLine("Current job", statusInfo, status.Queue.CurrentJobID, colorize))
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Pipeline", colorize) {
		fmt.Fprintln(out, line)
	}
	slotNames := make([]string, 0, len(status.Pipeline.Slots))
	for name := range status.Pipeline.Slots {
		slotNames = append(slotNames, name)
	}
	sort.Strings(slotNames)
	slotRows := make([][]string, 0, len(slotNames))
	for _, name := range slotNames {
		slotRows = append(slotRows, []string{name, string(status.Pipeline.Slots[name])})
	}
	if len(slotRows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"Slot", "Residency"}, slotRows, []columnAlignment{alignLeft, alignLeft}))
	}
	memory := fmt.Sprintf("%d MB free / %d MB total", status.Pipeline.Memory.FreeMB, status.Pipeline.Memory.TotalMB)
	fmt.Fprintln(out, renderStatusLine("Device memory", statusInfo, memory, colorize))

	if len(status.Preflight) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Preflight", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, check := range status.Preflight {
			kind := statusError
			if check.Passed {
				kind = statusOK
			}
			fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
		}
	}
}
