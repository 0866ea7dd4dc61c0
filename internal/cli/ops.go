package cli

import (
	"fmt"
	"io"

	"salesync/internal/app"
	"salesync/internal/database"
	"salesync/internal/export"
	"salesync/internal/worker"

	"github.com/spf13/cobra"
)

// NewSyncCommand runs a single drain against the configured channels.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one drain of the pending queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			authoritative, err := app.NewAuthoritative(s.cfg)
			if err != nil {
				return err
			}
			mirror, err := app.NewMirror(ctx, s.cfg, s.logger)
			if err != nil {
				return err
			}
			var opts []worker.SynchronizerOption
			ingestion, err := app.NewIngestion(s.cfg)
			if err != nil {
				return err
			}
			if ingestion != nil {
				opts = append(opts, worker.WithIngestion(ingestion))
			}

			res, drainErr := worker.NewSynchronizer(s.db, authoritative, mirror, s.logger, opts...).Drain(ctx)
			if err := output(rootOpts, cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "attempted %d, synced %d, failed %d, pending %d (%s)\n",
					res.Attempted, res.Synced, res.Failed, res.Pending, res.Outcome(drainErr))
			}); err != nil {
				return err
			}
			return drainErr
		},
	}
}

func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export-unreconciled",
		Short: "Write sales the authoritative server never acknowledged to xlsx",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if dir == "" {
				dir = s.cfg.Exports.Path
			}
			path, rows, err := export.NewExporter(s.db, dir, s.logger).ExportUnreconciled(cmd.Context())
			if err != nil {
				return err
			}
			return output(rootOpts, cmd.OutOrStdout(), map[string]any{"path": path, "rows": rows}, func(w io.Writer) {
				fmt.Fprintf(w, "%d sales written to %s\n", rows, path)
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (default exports.path)")

	return cmd
}

func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the sales store now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			backup := database.NewBackupService(s.db.Path(), s.cfg.Backup, s.logger)
			path, err := backup.PerformBackup(cmd.Context())
			if err != nil {
				return err
			}
			backup.CleanupOldBackups()
			return output(rootOpts, cmd.OutOrStdout(), map[string]string{"path": path}, func(w io.Writer) {
				fmt.Fprintf(w, "backup written to %s\n", path)
			})
		},
	}
}
