package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/dpup/obsidian"
	"github.com/dpup/obsidian/logging"
	"github.com/spf13/cobra"
)

var validFormats = []string{"text", "json"}

type rootOptions struct {
	configFile string
	verbose    bool
	format     string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "obsidian",
		Short: "Obsidian OAuth 2.0 authorization server",
		Long: `Obsidian is an OAuth 2.0 authorization server. Every grant runs as a
saga on an in-process message bus.

Configuration is read from obsidian.yaml, OB__ environment variables and
the file named by --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.format, validFormats)
			}
			if opts.configFile != "" {
				if err := obsidian.LoadConfigFile(opts.configFile); err != nil {
					return fmt.Errorf("loading %s: %w", opts.configFile, err)
				}
			}
			if warnings := obsidian.ValidateConfig(); warnings != "" {
				fmt.Fprint(cmd.ErrOrStderr(), warnings)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "additional YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "human readable debug logging")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newClientCommand(opts))
	cmd.AddCommand(newScopeCommand(opts))
	cmd.AddCommand(newUserCommand(opts))

	return cmd
}

func (o *rootOptions) context(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.verbose {
		return logging.With(ctx, logging.NewDevLogger())
	}
	return logging.With(ctx, logging.NewProdLogger())
}

// print writes v as JSON, or as the given text lines.
func (o *rootOptions) print(w io.Writer, v any, lines ...string) error {
	if o.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
