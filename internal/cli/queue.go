package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"salesync/internal/models"
	"salesync/internal/service"

	"github.com/spf13/cobra"
)

func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a sale from a JSON file",
		Long: `Queue a sale read from a JSON file (or "-" for stdin).

The file holds one sale or an array of sales. id_global, tenant_id and
created_at are filled in when missing. Nothing is sent over the network;
the running agent picks the sales up on its next drain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(rootOpts, file, cmd)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "sale JSON file")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runEnqueue(opts *RootOptions, file string, cmd *cobra.Command) error {
	raw, err := readInput(file, cmd.InOrStdin())
	if err != nil {
		return err
	}
	records, err := decodeSales(raw)
	if err != nil {
		return err
	}

	s, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	sales := service.NewSaleService(s.db, s.cfg.Tenant, s.cfg.Sale.IDPrefix, s.logger)

	ids := make([]string, 0, len(records))
	for i := range records {
		conf, err := sales.ConfirmSale(cmd.Context(), &records[i])
		if err != nil {
			return fmt.Errorf("sale %d: %w", i, err)
		}
		ids = append(ids, conf.Record.IDGlobal)
	}

	return output(opts, cmd.OutOrStdout(), map[string]any{"queued": ids}, func(w io.Writer) {
		for _, id := range ids {
			fmt.Fprintf(w, "queued %s\n", id)
		}
	})
}

func readInput(file string, stdin io.Reader) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}

func decodeSales(raw []byte) ([]models.PendingSaleRecord, error) {
	var many []models.PendingSaleRecord
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one models.PendingSaleRecord
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("decode sale: %w", err)
	}
	return []models.PendingSaleRecord{one}, nil
}

func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List sales waiting for delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			pending, err := s.db.ListPending(cmd.Context())
			if err != nil {
				return err
			}
			return output(rootOpts, cmd.OutOrStdout(), pending, func(w io.Writer) {
				for i := range pending {
					fmt.Fprintf(w, "%s\t%s\t%d items\n", pending[i].IDGlobal, pending[i].CreatedAt.Format("2006-01-02 15:04:05"), len(pending[i].Items))
				}
				fmt.Fprintf(w, "%d pending\n", len(pending))
			})
		},
	}
}

func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently synced sales",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			history, err := s.db.ListHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return output(rootOpts, cmd.OutOrStdout(), history, func(w io.Writer) {
				for i := range history {
					fmt.Fprintf(w, "%s\t%s\t%s\n", history[i].IDGlobal, history[i].CreatedAt.Format("2006-01-02 15:04:05"), history[i].PaymentMethod)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of sales to show")

	return cmd
}
