package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/rollcall/internal/backup"
	"github.com/scrypster/rollcall/internal/config"
)

const backupTimeout = 5 * time.Minute

var errBackupUnsupported = errors.New("backups are only supported for the sqlite storage engine")

func newBackupService(cfg *config.Config, logger *slog.Logger) (*backup.Service, error) {
	if cfg.Storage.StorageEngine != "sqlite" {
		return nil, errBackupUnsupported
	}
	return backup.NewService(backup.Config{
		DBPath: cfg.SQLitePath(),
		Dir:    cfg.BackupDir(),
		Retention: backup.RetentionPolicy{
			KeepLast:   cfg.Backup.KeepLast,
			KeepDaily:  cfg.Backup.KeepDaily,
			KeepWeekly: cfg.Backup.KeepWeekly,
		},
	}, logger)
}

func newBackupCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the mapping database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackupService(ctx, func(svc *backup.Service) error {
				snap, err := svc.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd, snap)
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackupService(ctx, func(svc *backup.Service) error {
				snapshots, err := svc.List()
				if err != nil {
					return err
				}
				return writeJSON(cmd, snapshots)
			})
		},
	})

	var latest bool
	restore := &cobra.Command{
		Use:   "restore [SNAPSHOT]",
		Short: "Replace the mapping database with a snapshot (stop the server first)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if latest == (len(args) == 1) {
				return errors.New("pass either a snapshot path or --latest")
			}
			return withBackupService(ctx, func(svc *backup.Service) error {
				path := ""
				if latest {
					snap, err := svc.Latest()
					if err != nil {
						return err
					}
					path = snap.Path
				} else {
					path = args[0]
				}
				if err := svc.Restore(cmd.Context(), path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", path)
				return nil
			})
		},
	}
	restore.Flags().BoolVar(&latest, "latest", false, "Restore the newest snapshot")
	cmd.AddCommand(restore)

	return cmd
}

func withBackupService(ctx *commandContext, fn func(*backup.Service) error) error {
	cfg, logger, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	svc, err := newBackupService(cfg, logger)
	if err != nil {
		return err
	}
	return fn(svc)
}
