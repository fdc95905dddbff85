package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	app "github.com/okian/revroute/internal/app"
	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/operators"
)

func newEvalCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run and inspect backtests",
	}
	cmd.AddCommand(
		newEvalRunCmd(opts),
		newEvalShowCmd(opts),
		newEvalListCmd(opts),
		newEvalExplainCmd(opts),
	)
	return cmd
}

// readRunConfig decodes a YAML run config file.
func readRunConfig(path string) (eval.RunConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return eval.RunConfig{}, fmt.Errorf("read run config: %w", err)
	}
	var cfg eval.RunConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return eval.RunConfig{}, fmt.Errorf("%w: %s: %v", eval.ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

func newEvalRunCmd(opts *rootOptions) *cobra.Command {
	var (
		file      string
		candidate string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay the router over the contexts of a run config",
		Long: `Replay the router over historical cutoffs and store the result under a
hash of the normalized config. Running an identical config again returns
the stored run unless --force is given.`,
		Example: `  revroute eval run -f runs/april.yaml
  revroute eval run -f runs/april.yaml --candidate mentions-only --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readRunConfig(file)
			if err != nil {
				return err
			}
			if candidate != "" {
				cfg.Candidate = candidate
			}
			cfg.Force = cfg.Force || force
			return opts.withService(cmd, func(svc *app.Service) error {
				run, err := svc.RunEval(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), run)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML run config")
	cmd.Flags().StringVar(&candidate, "candidate", "", "registered candidate to replay instead of the champion")
	cmd.Flags().BoolVar(&force, "force", false, "re-execute even if the run is stored")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newEvalShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(svc *app.Service) error {
				run, err := svc.ShowRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), run)
			})
		},
	}
}

// runRow is one line of eval list.
type runRow struct {
	ID        string           `json:"id"`
	Task      operators.TaskID `json:"task"`
	Candidate string           `json:"candidate,omitempty"`
	CreatedAt string           `json:"created_at"`
	Summary   eval.Summary     `json:"summary"`
}

func newEvalListCmd(opts *rootOptions) *cobra.Command {
	var f eval.ListFilter
	var task string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.Task = operators.TaskID(task)
			return opts.withService(cmd, func(svc *app.Service) error {
				runs, err := svc.ListRuns(cmd.Context(), f)
				if err != nil {
					return err
				}
				rows := make([]runRow, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, runRow{
						ID:        r.ID,
						Task:      r.Config.Task,
						Candidate: r.Config.Candidate,
						CreatedAt: r.CreatedAt.Format(time.RFC3339),
						Summary:   r.Summary,
					})
				}
				return printJSON(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "only runs of this task")
	cmd.Flags().StringVar(&f.Repo, "repo", "", "only runs touching this repo")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "at most n runs")
	return cmd
}

func newEvalExplainCmd(opts *rootOptions) *cobra.Command {
	var cf contextFlags
	cmd := &cobra.Command{
		Use:   "explain <run-id>",
		Short: "Print the stored contribution trail of one context of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := cf.spec()
			if err != nil {
				return err
			}
			et, err := model.ParseEntityType(spec.EntityType)
			if err != nil {
				return err
			}
			ref := eval.ContextRef{Repo: spec.Repo, EntityType: et, EntityID: spec.EntityID, Cutoff: spec.Cutoff}
			return opts.withService(cmd, func(svc *app.Service) error {
				exp, err := svc.ExplainRun(cmd.Context(), args[0], ref)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), exp)
			})
		},
	}
	cf.register(cmd, false)
	return cmd
}
