package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	app "github.com/okian/revroute/internal/app"
	"github.com/okian/revroute/internal/config"
	"github.com/okian/revroute/pkg/logger"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "revroute",
		Short:         "Reviewer routing, evaluation and candidate registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (defaults to $REVROUTE_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override log_format")

	root.AddCommand(
		newServeCmd(opts),
		newRouteCmd(opts),
		newEvalCmd(opts),
		newCutoffCmd(opts),
		newRegistryCmd(opts),
		newBackfillCmd(opts),
	)
	return root
}

// load reads the config and applies logging overrides.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Context(), o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if err := logger.InitWith(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withService loads the config, starts a service and runs fn with it.
func (o *rootOptions) withService(cmd *cobra.Command, fn func(svc *app.Service) error, opts ...app.Option) error {
	cfg, err := o.load(cmd)
	if err != nil {
		return err
	}
	svc := app.New(cfg, append([]app.Option{app.WithLogger(logger.Get())}, opts...)...)
	if err := svc.Start(cmd.Context()); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()
	return fn(svc)
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
