package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	app "github.com/okian/revroute/internal/app"
	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/internal/domain/operators"
)

// contextFlags identify one scoring context on the command line.
type contextFlags struct {
	repo       string
	entityType string
	entityID   string
	cutoff     string
}

func (f *contextFlags) register(cmd *cobra.Command, cutoffRequired bool) {
	cmd.Flags().StringVar(&f.repo, "repo", "", "repository, owner/name")
	cmd.Flags().StringVar(&f.entityType, "entity-type", "pull_request", "pull_request or issue")
	cmd.Flags().StringVar(&f.entityID, "entity", "", "pull request or issue number")
	cmd.Flags().StringVar(&f.cutoff, "cutoff", "", "RFC3339 cutoff time")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("entity")
	if cutoffRequired {
		_ = cmd.MarkFlagRequired("cutoff")
	}
}

func (f *contextFlags) spec() (eval.ContextSpec, error) {
	spec := eval.ContextSpec{Repo: f.repo, EntityType: f.entityType, EntityID: f.entityID}
	if f.cutoff != "" {
		t, err := time.Parse(time.RFC3339, f.cutoff)
		if err != nil {
			return spec, fmt.Errorf("invalid --cutoff %q: must be RFC3339", f.cutoff)
		}
		spec.Cutoff = t
	}
	return spec, nil
}

func newRouteCmd(opts *rootOptions) *cobra.Command {
	var (
		cf     contextFlags
		task   string
		source string
		top    int
	)
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Rank reviewer candidates for one pull request or issue",
		Example: `  revroute route --repo acme/api --entity 42 --cutoff 2024-05-01T12:00:00Z
  revroute route --repo acme/api --entity 42 --cutoff 2024-05-01T12:00:00Z --source mentions --top 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := cf.spec()
			if err != nil {
				return err
			}
			sc, err := spec.ScoringContext()
			if err != nil {
				return err
			}
			return opts.withService(cmd, func(svc *app.Service) error {
				d, err := svc.Route(cmd.Context(), operators.TaskID(task), sc, source)
				if err != nil {
					return err
				}
				if top > 0 && len(d.Candidates) > top {
					d.Candidates = d.Candidates[:top]
				}
				return printJSON(cmd.OutOrStdout(), d)
			})
		},
	}
	cf.register(cmd, true)
	cmd.Flags().StringVar(&task, "task", "", "task id (defaults to default_task)")
	cmd.Flags().StringVar(&source, "source", "", "candidate source: mentions, history or union")
	cmd.Flags().IntVar(&top, "top", 0, "keep only the first n candidates")
	return cmd
}
