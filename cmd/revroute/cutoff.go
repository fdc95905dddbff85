package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	app "github.com/okian/revroute/internal/app"
	"github.com/okian/revroute/internal/domain/eval"
)

func newCutoffCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cutoff",
		Short: "Cutoff tooling",
	}
	cmd.AddCommand(newCutoffCheckCmd(opts))
	return cmd
}

func newCutoffCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		repo   string
		cutoff string
		margin time.Duration
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that a cutoff leaves a safety margin before now or the latest event",
		Example: `  revroute cutoff check --cutoff 2024-05-01T00:00:00Z
  revroute cutoff check --repo acme/api --cutoff 2024-05-01T00:00:00Z --margin 72h --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := time.Parse(time.RFC3339, cutoff)
			if err != nil {
				return fmt.Errorf("invalid --cutoff %q: must be RFC3339", cutoff)
			}
			return opts.withService(cmd, func(svc *app.Service) error {
				res := svc.CheckHorizon(cmd.Context(), eval.HorizonRequest{Repo: repo, Cutoff: t, Margin: margin})
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Status, res.Reason); err != nil {
					return err
				}
				if strict && !res.Passed() {
					return res.Err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "bound the reference by this repo's latest event")
	cmd.Flags().StringVar(&cutoff, "cutoff", "", "RFC3339 cutoff time")
	cmd.Flags().DurationVar(&margin, "margin", 0, "safety margin (defaults to horizon_margin_hours)")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when the check fails")
	_ = cmd.MarkFlagRequired("cutoff")
	return cmd
}
