package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	app "github.com/okian/revroute/internal/app"
	"github.com/okian/revroute/internal/domain/eval"
)

func newBackfillCmd(opts *rootOptions) *cobra.Command {
	var (
		req   eval.BackfillRequest
		since string
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Warm cached LLM rerank artifacts for a repo",
		Example: `  revroute backfill --repo acme/api --since 2024-01-01T00:00:00Z --dry-run
  revroute backfill --repo acme/api --prompt-version v2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since %q: must be RFC3339", since)
				}
				req.Since = t
			}
			return opts.withService(cmd, func(svc *app.Service) error {
				rep, err := svc.Backfill(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
	cmd.Flags().StringVar(&req.Repo, "repo", "", "repository, owner/name")
	cmd.Flags().StringVar(&since, "since", "", "only entities opened at or after this RFC3339 time")
	cmd.Flags().StringVar(&req.PromptID, "prompt-id", "", "override prompt_id")
	cmd.Flags().StringVar(&req.PromptVersion, "prompt-version", "", "override prompt_version")
	cmd.Flags().StringVar(&req.Source, "source", "", "candidate source: mentions, history or union")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "count misses without calling the LLM")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}
