package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcmexdev/payment-reconciler/internal/pkg/config"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/adapters/sqlite"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/estimate"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
	reconlogsqlite "github.com/jcmexdev/payment-reconciler/internal/reconciler/reconlog/sqlite"
)

type globalOptions struct {
	configPath string
	storePath  string
	auditPath  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "reconcilectl",
		Short:         "Inspect payment reconciliation state",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&opts.storePath, "store", "", "cart/order SQLite database (overrides config)")
	root.PersistentFlags().StringVar(&opts.auditPath, "audit-log", "", "reconciliation log SQLite database (overrides config)")

	root.AddCommand(
		migrateCmd(opts),
		transitionsCmd(),
		statusCmd(opts),
		historyCmd(opts),
		fingerprintCmd(),
	)
	return root
}

// resolve fills unset paths from the config file and RECONCILER_* env.
func (o *globalOptions) resolve() error {
	if o.storePath != "" && o.auditPath != "" {
		return nil
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.storePath == "" {
		o.storePath = cfg.Store.SQLitePath
	}
	if o.auditPath == "" {
		o.auditPath = cfg.AuditLog.SQLitePath
	}
	return nil
}

func migrateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store and reconciliation log schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := sqlite.Open(opts.storePath)
			if err != nil {
				return err
			}
			defer s.Close()
			l, err := reconlogsqlite.Open(opts.auditPath)
			if err != nil {
				return err
			}
			defer l.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "store schema applied: %s\nreconciliation log schema applied: %s\n",
				opts.storePath, opts.auditPath)
			return nil
		},
	}
}

func transitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions [status]",
		Short: "Print the payment status transition table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := domain.Statuses()
			if len(args) == 1 {
				s, err := domain.ParseStatus(args[0])
				if err != nil {
					return err
				}
				statuses = []domain.Status{s}
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FROM\tALLOWED")
			for _, s := range statuses {
				allowed := make([]string, 0)
				for _, to := range domain.AllowedFrom(s) {
					allowed = append(allowed, string(to))
				}
				fmt.Fprintf(w, "%s\t%s\n", s, strings.Join(allowed, ", "))
			}
			return w.Flush()
		},
	}
}

func statusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <order-id|increment-id|transaction-reference>",
		Short: "Show an order, its payment status and its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sqlite.Open(opts.storePath)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			order, err := lookupOrder(
				func() (*domain.Order, error) { return s.GetOrder(ctx, args[0]) },
				func() (*domain.Order, error) { return s.FindByIncrementID(ctx, args[0]) },
				func() (*domain.Order, error) { return s.FindByTransactionReference(ctx, args[0]) },
			)
			if err != nil {
				return err
			}
			docs, err := s.Documents(ctx, order.ID)
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), order, docs)
			return nil
		},
	}
}

// lookupOrder returns the first lookup that finds an order.
func lookupOrder(lookups ...func() (*domain.Order, error)) (*domain.Order, error) {
	for _, find := range lookups {
		o, err := find()
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ports.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("order not found")
}

func printOrder(out io.Writer, o *domain.Order, docs []sqlite.Document) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", o.ID)
	fmt.Fprintf(w, "increment id\t%s\n", o.IncrementID)
	fmt.Fprintf(w, "frozen cart\t%d\n", o.FrozenCartID)
	fmt.Fprintf(w, "transaction\t%s\n", o.TransactionReference)
	fmt.Fprintf(w, "payment status\t%s\n", o.PaymentStatus)
	fmt.Fprintf(w, "grand total\t%d %s\n", o.Totals.Grand, o.Currency)
	fmt.Fprintf(w, "tax\t%d\n", o.Totals.Tax)
	if o.Note != "" {
		fmt.Fprintf(w, "note\t%s\n", o.Note)
	}
	for _, d := range docs {
		fmt.Fprintf(w, "document\t%s %d %s\n", d.Kind, d.Amount, d.CreatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

func historyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <transaction-reference>",
		Short: "Show every reconciliation attempt step for a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := reconlogsqlite.Open(opts.auditPath)
			if err != nil {
				return err
			}
			defer l.Close()

			entries, err := l.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no attempts recorded for %s\n", args[0])
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tATTEMPT\tSTATUS\tSTEP\tTRACE\tERRORS")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.UpdatedAt.Format(time.RFC3339), e.AttemptID, e.Status, e.Step, e.TraceID, e.ErrorMessages)
			}
			return w.Flush()
		},
	}
}

// fingerprintInput is the JSON accepted by the fingerprint command.
type fingerprintInput struct {
	CartID             domain.CartID       `json:"cart_id"`
	DiscountedSubtotal int64               `json:"discounted_subtotal"`
	Cart               domain.CartContents `json:"cart"`
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [file]",
		Short: "Compute the estimate cache fingerprint of a cart (JSON from file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var req fingerprintInput
			if err := json.NewDecoder(in).Decode(&req); err != nil {
				return fmt.Errorf("decode cart: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), estimate.Fingerprint(estimate.Request{
				CartID:             req.CartID,
				DiscountedSubtotal: req.DiscountedSubtotal,
				Contents:           req.Cart,
			}))
			return nil
		},
	}
}
