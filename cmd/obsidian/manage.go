package main

import (
	"context"
	"fmt"

	"github.com/dpup/obsidian"
	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/management"
	"github.com/dpup/obsidian/saga"
	"github.com/spf13/cobra"
)

// withServer builds a server from configuration, without listening, and
// passes its saga bus to fn.
func withServer(ctx context.Context, extra []obsidian.ServerOption, fn func(context.Context, *saga.Bus) error) (err error) {
	s, err := obsidian.New(append([]obsidian.ServerOption{obsidian.WithContext(ctx)}, extra...)...)
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Shutdown())
	}()
	return fn(ctx, s.Bus())
}

func rejected(r management.MessageResult) error {
	if r.Succeed {
		return nil
	}
	return errors.New(r.Message)
}

type clientCreateOptions struct {
	*rootOptions
	name         string
	redirectURIs []string
	scopes       []string
	server       []obsidian.ServerOption
}

func newClientCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage OAuth clients",
	}
	cmd.AddCommand(newClientCreateCommand(&clientCreateOptions{rootOptions: rootOpts}))
	return cmd
}

func newClientCreateCommand(opts *clientCreateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a client and print its id and secret",
		Example: `  obsidian client create --name "Web App" \
    --redirect-uri https://app.example/callback --scope profile`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(opts.context(cmd), opts.server, func(ctx context.Context, bus *saga.Bus) error {
				res, err := saga.Invoke[*management.ClientCreationResult](ctx, bus, &management.CreateClientCommand{
					DisplayName:  opts.name,
					RedirectURIs: opts.redirectURIs,
					Scopes:       opts.scopes,
				})
				if err != nil {
					return err
				}
				if err := rejected(res.MessageResult); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), res,
					res.Message,
					"  id:     "+res.ID,
					"  secret: "+res.Secret,
				)
			})
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "display name shown on the permission page")
	cmd.Flags().StringSliceVar(&opts.redirectURIs, "redirect-uri", nil, "allowed redirect URI, repeatable")
	cmd.Flags().StringSliceVar(&opts.scopes, "scope", nil, "scope the client may request, repeatable")
	_ = cmd.MarkFlagRequired("redirect-uri")
	return cmd
}

type scopeCreateOptions struct {
	*rootOptions
	name        string
	displayName string
	description string
	claims      []string
	server      []obsidian.ServerOption
}

func newScopeCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scope",
		Short: "Manage permission scopes",
	}
	cmd.AddCommand(newScopeCreateCommand(&scopeCreateOptions{rootOptions: rootOpts}))
	return cmd
}

func newScopeCreateCommand(opts *scopeCreateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a permission scope",
		Example: fmt.Sprintf("  obsidian scope create profile --claim %s --claim %s",
			domain.ClaimSubject, domain.ClaimName),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.name = args[0]
			return withServer(opts.context(cmd), opts.server, func(ctx context.Context, bus *saga.Bus) error {
				res, err := saga.Invoke[*management.ScopeCreationResult](ctx, bus, &management.CreateScopeCommand{
					ScopeName:   opts.name,
					DisplayName: opts.displayName,
					Description: opts.description,
					ClaimTypes:  opts.claims,
				})
				if err != nil {
					return err
				}
				if err := rejected(res.MessageResult); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), res, res.Message, "  id: "+res.ID)
			})
		},
	}
	cmd.Flags().StringVar(&opts.displayName, "display-name", "", "name shown on the permission page")
	cmd.Flags().StringVar(&opts.description, "description", "", "description shown on the permission page")
	cmd.Flags().StringSliceVar(&opts.claims, "claim", nil, "claim type released by the scope, repeatable")
	return cmd
}

type userCreateOptions struct {
	*rootOptions
	userName string
	password string
	profile  map[string]string
	server   []obsidian.ServerOption
}

func newUserCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage resource owners",
	}
	cmd.AddCommand(newUserCreateCommand(&userCreateOptions{rootOptions: rootOpts}))
	return cmd
}

func newUserCreateCommand(opts *userCreateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "create <username>",
		Short:   "Create a user with a password",
		Example: `  obsidian user create alice --password wonderland --profile given_name=Alice`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.userName = args[0]
			profile, err := parseProfile(opts.profile)
			if err != nil {
				return err
			}
			return withServer(opts.context(cmd), opts.server, func(ctx context.Context, bus *saga.Bus) error {
				res, err := saga.Invoke[*management.UserCreationResult](ctx, bus, &management.CreateUserCommand{
					UserName: opts.userName,
					Password: opts.password,
					Profile:  profile,
				})
				if err != nil {
					return err
				}
				if err := rejected(res.MessageResult); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), res, res.Message, "  id: "+res.ID)
			})
		},
	}
	cmd.Flags().StringVar(&opts.password, "password", "", "initial password")
	cmd.Flags().StringToStringVar(&opts.profile, "profile", nil, "profile field as key=value, repeatable")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
