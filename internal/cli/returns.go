package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/internal/fulfillment"
	"logistics/internal/orders"
	"logistics/internal/redcap"
)

func newReturnsCommand(opts *RootOptions, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "returns",
		Short: "Reconcile kit return pickups",
	}
	var (
		project string
		write   bool
	)
	cascadia := &cobra.Command{
		Use:   "cascadia",
		Short: "Match scheduled pickups to carrier orders and record tracking numbers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, deps, func(ctx context.Context, s *session) error {
				return runReturns(ctx, s, project, write)
			})
		},
	}
	cascadia.Flags().StringVar(&project, "project", "", "household project (first cascadia project when empty)")
	cascadia.Flags().BoolVar(&write, "import-to-redcap", false, "write matched tracking numbers back to the records platform")
	cmd.AddCommand(cascadia)
	return cmd
}

// runReturns looks up every pending pickup. A lookup that exhausts its
// retries aborts the pass before anything is written back.
func runReturns(ctx context.Context, s *session, name string, write bool) error {
	p, err := s.projectByStrategy(name, config.StrategyCascadia)
	if err != nil {
		return err
	}
	records := s.records()
	engine := orders.NewEngine(records, nil, s.logger, orders.WithRecorder(s.recorder))
	pending, err := engine.RunProject(ctx, p)
	if err != nil {
		return err
	}
	s.logger.Info("pickups awaiting tracking", zap.Int("orders", len(pending)))

	matches, err := s.carrier().Reconcile(ctx, pending)
	if err != nil {
		return fmt.Errorf("reconcile %s returns: %w", p.Name, err)
	}
	s.recorder.Orders(p.Name, "tracked", len(matches))
	if len(matches) == 0 {
		s.logger.Info("no carrier orders matched")
		return nil
	}
	if !write {
		s.logger.Info("tracking numbers not written, pass --import-to-redcap to import", zap.Int("matches", len(matches)))
		return nil
	}
	n, err := records.ImportRecords(ctx, p, fulfillment.ImportRecords(p.IDField, matches), redcap.DefaultImportBatch)
	if err != nil {
		return err
	}
	s.logger.Info("tracking numbers imported", zap.Int("records", n))
	return nil
}
