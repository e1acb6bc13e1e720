package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/rollcall/internal/attribution"
	"github.com/scrypster/rollcall/internal/config"
	"github.com/scrypster/rollcall/internal/engine"
	"github.com/scrypster/rollcall/internal/storage"
)

func requireScope(scope string) error {
	if strings.TrimSpace(scope) == "" {
		return errors.New("--scope is required")
	}
	return nil
}

func operatorOrDefault(operator string) string {
	if strings.TrimSpace(operator) != "" {
		return operator
	}
	return attribution.DetectOperator()
}

func newConfirmCommand(ctx *commandContext) *cobra.Command {
	var scope, email, name, operator string

	cmd := &cobra.Command{
		Use:   "confirm NAME",
		Short: "Record that a transcript name refers to a roster identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireScope(scope); err != nil {
				return err
			}
			return ctx.withResolver(func(resolver *engine.IdentityResolver, _ *config.Config) error {
				mapping, err := resolver.Confirm(cmd.Context(), scope, args[0], email, name, operatorOrDefault(operator))
				if err != nil {
					return err
				}
				return writeJSON(cmd, mapping)
			})
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Project scope")
	cmd.Flags().StringVar(&email, "email", "", "Resolved roster email")
	cmd.Flags().StringVar(&name, "name", "", "Resolved display name")
	cmd.Flags().StringVar(&operator, "operator", "", "Who is confirming (defaults to the detected operator)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newForgetCommand(ctx *commandContext) *cobra.Command {
	var scope, operator string

	cmd := &cobra.Command{
		Use:   "forget NAME",
		Short: "Delete a learned mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireScope(scope); err != nil {
				return err
			}
			return ctx.withResolver(func(resolver *engine.IdentityResolver, _ *config.Config) error {
				err := resolver.Forget(cmd.Context(), scope, args[0], operatorOrDefault(operator))
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("no mapping for %q in scope %q", args[0], scope)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "forgot %q in scope %q\n", args[0], scope)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Project scope")
	cmd.Flags().StringVar(&operator, "operator", "", "Who is deleting (defaults to the detected operator)")
	return cmd
}

func newMappingsCommand(ctx *commandContext) *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "List learned mappings of a scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireScope(scope); err != nil {
				return err
			}
			return ctx.withResolver(func(resolver *engine.IdentityResolver, _ *config.Config) error {
				mappings, err := resolver.Mappings(cmd.Context(), scope)
				if err != nil {
					return err
				}
				return writeJSON(cmd, mappings)
			})
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Project scope")
	return cmd
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		scope string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent mapping changes of a scope, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireScope(scope); err != nil {
				return err
			}
			return ctx.withResolver(func(resolver *engine.IdentityResolver, _ *config.Config) error {
				events, err := resolver.History(cmd.Context(), scope, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd, events)
			})
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Project scope")
	cmd.Flags().IntVar(&limit, "limit", storage.DefaultHistoryLimit, "Maximum number of events")
	return cmd
}
