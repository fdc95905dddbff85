package main

import (
	"strings"

	"github.com/spf13/cobra"

	app "github.com/okian/revroute/internal/app"
	"github.com/okian/revroute/internal/config"
	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/operators"
)

func newRegistryCmd(opts *rootOptions) *cobra.Command {
	var task string
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage champion and challenger configurations",
	}
	cmd.PersistentFlags().StringVar(&task, "task", "", "task id (defaults to default_task)")
	cmd.AddCommand(
		newRegistryRegisterCmd(opts, &task),
		newRegistryPromoteCmd(opts, &task),
		newRegistryShowCmd(opts, &task),
	)
	return cmd
}

func newRegistryRegisterCmd(opts *rootOptions, task *string) *cobra.Command {
	var (
		ops           []string
		weights       string
		normalization string
		model         string
		promptVersion string
	)
	cmd := &cobra.Command{
		Use:     "register <name>",
		Short:   "Register a candidate configuration",
		Example: `  revroute registry register mentions-only --operators mention_heuristic
  revroute registry register blend --operators mention_heuristic,affinity_model --weights affinity_model=2 --normalization rank`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := champion.Ref{
				Name:          args[0],
				Normalization: normalization,
				Model:         model,
				PromptVersion: promptVersion,
			}
			for _, id := range ops {
				ref.Operators = append(ref.Operators, operators.ID(strings.TrimSpace(id)))
			}
			if weights != "" {
				w, err := config.ParseWeights(weights)
				if err != nil {
					return err
				}
				ref.Weights = make(map[operators.ID]float64, len(w))
				for id, v := range w {
					ref.Weights[operators.ID(id)] = v
				}
			}
			return opts.withService(cmd, func(svc *app.Service) error {
				if err := svc.Register(cmd.Context(), operators.TaskID(*task), ref); err != nil {
					return err
				}
				st, err := svc.Registry(cmd.Context(), operators.TaskID(*task))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().StringSliceVar(&ops, "operators", nil, "enabled operator ids")
	cmd.Flags().StringVar(&weights, "weights", "", "fusion weights, id=w,id=w")
	cmd.Flags().StringVar(&normalization, "normalization", "", "minmax, max, zscore or rank")
	cmd.Flags().StringVar(&model, "model", "", "LLM model pinned for this candidate")
	cmd.Flags().StringVar(&promptVersion, "prompt-version", "", "rerank prompt version pinned for this candidate")
	_ = cmd.MarkFlagRequired("operators")
	return cmd
}

func newRegistryPromoteCmd(opts *rootOptions, task *string) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <name>",
		Short: "Make a registered candidate the champion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(svc *app.Service) error {
				if err := svc.Promote(cmd.Context(), operators.TaskID(*task), args[0]); err != nil {
					return err
				}
				st, err := svc.Registry(cmd.Context(), operators.TaskID(*task))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func newRegistryShowCmd(opts *rootOptions, task *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the registry state of a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withService(cmd, func(svc *app.Service) error {
				st, err := svc.Registry(cmd.Context(), operators.TaskID(*task))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}
