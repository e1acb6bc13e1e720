package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/rollcall/internal/config"
	"github.com/scrypster/rollcall/internal/engine"
	"github.com/scrypster/rollcall/internal/roster"
	"github.com/scrypster/rollcall/pkg/types"
)

type explainedResult struct {
	Result *types.ResolutionResult `json:"result"`
	Trace  []engine.TraceEvent     `json:"trace"`
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var (
		scope        string
		rosterFile   string
		chatFile     string
		calendarFile string
		excerpt      string
		explain      bool
	)

	cmd := &cobra.Command{
		Use:   "resolve NAME [NAME...]",
		Short: "Resolve transcript speaker names against a roster",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withResolver(func(resolver *engine.IdentityResolver, cfg *config.Config) error {
				scopeName, entries, err := loadRoster(cfg, scope, rosterFile)
				if err != nil {
					return err
				}
				chat, err := loadCandidates(chatFile)
				if err != nil {
					return err
				}
				calendar, err := loadCandidates(calendarFile)
				if err != nil {
					return err
				}

				if explain {
					out := make([]explainedResult, 0, len(args))
					for _, name := range args {
						trace := &engine.Trace{}
						res, err := resolver.ResolveWithTrace(cmd.Context(), &types.ResolutionRequest{
							Scope:              scopeName,
							TranscriptName:     name,
							Context:            excerpt,
							Roster:             entries,
							ChatCandidates:     chat,
							CalendarCandidates: calendar,
						}, trace)
						if err != nil {
							return err
						}
						out = append(out, explainedResult{Result: res, Trace: trace.Events})
					}
					return writeJSON(cmd, out)
				}

				items := make([]engine.BatchItem, 0, len(args))
				for _, name := range args {
					items = append(items, engine.BatchItem{TranscriptName: name, Context: excerpt})
				}
				results, err := resolver.ResolveBatch(cmd.Context(), engine.BatchRequest{
					Scope:              scopeName,
					Items:              items,
					Roster:             entries,
					ChatCandidates:     chat,
					CalendarCandidates: calendar,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd, results)
			})
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Project scope (defaults to the roster file's scope)")
	cmd.Flags().StringVar(&rosterFile, "roster", "", "Roster YAML file (defaults to the scope's file in ROLLCALL_ROSTER_DIR)")
	cmd.Flags().StringVar(&chatFile, "chat", "", "YAML roster file of chat participants")
	cmd.Flags().StringVar(&calendarFile, "calendar", "", "YAML roster file of calendar attendees")
	cmd.Flags().StringVar(&excerpt, "context", "", "Transcript excerpt passed to semantic matching")
	cmd.Flags().BoolVar(&explain, "explain", false, "Include per-stage trace events")
	return cmd
}

// loadRoster returns the roster from file when given, otherwise the scope's
// roster from the configured roster directory.
func loadRoster(cfg *config.Config, scope, file string) (string, []types.RosterEntry, error) {
	if file != "" {
		f, err := roster.LoadFile(file)
		if err != nil {
			return "", nil, err
		}
		if strings.TrimSpace(scope) == "" {
			scope = f.Scope
		}
		return scope, f.Members, nil
	}

	if strings.TrimSpace(scope) == "" {
		return "", nil, errors.New("--scope or --roster is required")
	}
	dir := roster.NewDirectory(cfg.Roster.Dir, nil)
	if err := dir.Load(); err != nil {
		return "", nil, err
	}
	entries, err := dir.Roster(scope)
	if err != nil {
		return "", nil, err
	}
	return scope, entries, nil
}

func loadCandidates(file string) ([]types.RosterEntry, error) {
	if file == "" {
		return nil, nil
	}
	f, err := roster.LoadFile(file)
	if err != nil {
		return nil, err
	}
	return f.Members, nil
}
