package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/internal/export"
	"logistics/internal/orders"
	"logistics/internal/replenish"
	"logistics/pkg/domain"
)

func newOrdersCommand(opts *RootOptions, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Generate carrier order files",
	}
	cmd.AddCommand(newDeliveryOrdersCommand(opts, deps))
	cmd.AddCommand(newCarrierOrdersCommand(opts, deps))
	return cmd
}

func newDeliveryOrdersCommand(opts *RootOptions, deps Deps) *cobra.Command {
	var (
		projects []string
		upload   bool
	)
	cmd := &cobra.Command{
		Use:   "delivery",
		Short: "Build the delivery-service order file for every configured project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, deps, func(ctx context.Context, s *session) error {
				return runDeliveryOrders(ctx, s, projects, upload)
			})
		},
	}
	cmd.Flags().StringSliceVar(&projects, "project", nil, "limit the run to these projects")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the order file to object storage")
	return cmd
}

func runDeliveryOrders(ctx context.Context, s *session, names []string, upload bool) error {
	selected, invalid := s.selectProjects(names)
	engine := orders.NewEngine(s.records(), nil, s.logger, orders.WithRecorder(s.recorder))
	res := engine.Run(ctx, selected, invalid)
	if failed := res.Failed(); len(failed) > 0 {
		s.logger.Warn("some projects produced no orders", zap.Strings("projects", failed))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	all := res.Orders()
	if len(all) == 0 {
		s.logger.Info("no delivery orders, nothing to export")
		return nil
	}
	path, err := s.writeExport(export.FormatDelivery, all)
	if err != nil {
		return err
	}
	if upload {
		s.upload(ctx, path, s.cfg.Storage.DeliveryPrefix)
	}
	return nil
}

// selectProjects resolves the requested project names. Unknown or unusable
// names are returned with their configuration error.
func (s *session) selectProjects(names []string) ([]config.Project, map[string]error) {
	if len(names) == 0 {
		return s.cfg.Projects, s.cfg.Invalid
	}
	var selected []config.Project
	invalid := make(map[string]error)
	for _, name := range names {
		p, err := s.cfg.Project(name)
		if err != nil {
			invalid[name] = err
			continue
		}
		selected = append(selected, p)
	}
	return selected, invalid
}

func newCarrierOrdersCommand(opts *RootOptions, deps Deps) *cobra.Command {
	var (
		project string
		upload  bool
	)
	cmd := &cobra.Command{
		Use:   "usps",
		Short: "Build the postal carrier kit replenishment file for Cascadia households",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, deps, func(ctx context.Context, s *session) error {
				return runCarrierOrders(ctx, s, project, upload)
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "household project (first cascadia project when empty)")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the order file to object storage")
	return cmd
}

func runCarrierOrders(ctx context.Context, s *session, name string, upload bool) error {
	p, err := s.projectByStrategy(name, config.StrategyCascadia)
	if err != nil {
		return err
	}
	reports, err := replenish.FetchReports(ctx, s.records(), p)
	if err != nil {
		return fmt.Errorf("fetch %s household reports: %w", p.Name, err)
	}
	plan, err := replenish.NewPlanner(p, s.logger, replenish.WithClock(s.deps.Now)).Plan(ctx, reports)
	if err != nil {
		return err
	}
	counts := make(map[domain.OrderType]int)
	for _, o := range plan {
		counts[o.Type]++
	}
	for kind, n := range counts {
		s.recorder.Orders(p.Name, string(kind), n)
	}
	if len(plan) == 0 {
		s.logger.Info("no households need kits", zap.String("project", p.Name))
		return nil
	}
	path, err := s.writeExport(export.FormatCarrier, plan)
	if err != nil {
		return err
	}
	if upload {
		s.upload(ctx, path, s.cfg.Storage.CarrierPrefix)
	}
	return nil
}

func (s *session) writeExport(f export.Format, list []domain.Order) (string, error) {
	artifact, err := export.NewRenderer(s.deps.Now, s.logger).Render(f, list)
	if err != nil {
		return "", err
	}
	path, err := export.WriteFile(s.cfg.DataDir, artifact)
	if err != nil {
		return "", err
	}
	s.logger.Info("wrote order file", zap.String("path", path), zap.Int("rows", artifact.Rows))
	return path, nil
}
