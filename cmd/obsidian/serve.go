package main

import (
	"github.com/dpup/obsidian"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	*rootOptions
	host string
	port int
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverOpts := []obsidian.ServerOption{obsidian.WithContext(opts.context(cmd))}
			if cmd.Flags().Changed("host") {
				serverOpts = append(serverOpts, obsidian.WithHost(opts.host))
			}
			if cmd.Flags().Changed("port") {
				serverOpts = append(serverOpts, obsidian.WithPort(opts.port))
			}
			s, err := obsidian.New(serverOpts...)
			if err != nil {
				return err
			}
			return s.Start()
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "host to bind, overrides server.host")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "port to listen on, overrides server.port")

	return cmd
}
