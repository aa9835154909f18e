package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"kiln/internal/api"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and drive an asset's review workflow",
	}

	workflowCmd.AddCommand(newWorkflowShowCommand(ctx))
	workflowCmd.AddCommand(newWorkflowApproveCommand(ctx))
	workflowCmd.AddCommand(newWorkflowAdvanceCommand(ctx))
	workflowCmd.AddCommand(newWorkflowExportCommand(ctx))

	return workflowCmd
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <asset-id>",
		Short: "Show an asset's current workflow stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.AssetStage(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Asset %s is at stage %s\n", resp.AssetID, resp.To)
				return nil
			})
		},
	}
}

func newWorkflowApproveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <asset-id>",
		Short: "Approve the asset's current stage and advance one step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.ApproveAsset(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !resp.Advanced {
					fmt.Fprintf(cmd.OutOrStdout(), "Asset %s is already at %s; nothing to approve\n", resp.AssetID, resp.From)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Asset %s advanced: %s -> %s\n", resp.AssetID, resp.From, resp.To)
				return nil
			})
		},
	}
}

func newWorkflowAdvanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <asset-id> <stage>",
		Short: "Set an asset's workflow stage directly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.AdvanceAsset(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Asset %s advanced: %s -> %s\n", resp.AssetID, resp.From, resp.To)
				return nil
			})
		},
	}
}

func newWorkflowExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "skip-export <asset-id>",
		Aliases: []string{"export"},
		Short:   "Jump an asset straight to the exported stage",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.SkipToExport(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(resp.Skipped) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Asset %s exported, skipping: %s\n", resp.AssetID, strings.Join(resp.Skipped, ", "))
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Asset %s exported\n", resp.AssetID)
				return nil
			})
		},
	}
}
