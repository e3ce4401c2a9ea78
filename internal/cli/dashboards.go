package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"logistics/internal/dashboard"
	"logistics/internal/sheets"
	"logistics/pkg/domain"
)

// dashboardsDB is the sqlite file under the data directory used when no
// sheets DSN is configured.
const dashboardsDB = "dashboards.db"

var errVolatileSheets = errors.New("--commit needs a persistent sheets driver (sqlite or postgres)")

func newDashboardsCommand(opts *RootOptions, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboards",
		Short: "Refresh the dashboard sheets",
	}
	var commit bool
	cmd.PersistentFlags().BoolVar(&commit, "commit", false, "write results to the sheets")

	cmd.AddCommand(&cobra.Command{
		Use:   "kits-shipped",
		Short: "Append kits scanned since the last import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, deps, func(ctx context.Context, s *session) error {
				if err := s.durableSheets(commit); err != nil {
					return err
				}
				return s.withSheets(ctx, func(store domain.SheetStore) error {
					job := dashboard.NewKitsShipped(s.records(), store, s.logger, dashboard.WithClock(s.deps.Now))
					res, err := job.Run(ctx, s.cfg.Projects, commit)
					if err != nil {
						return err
					}
					s.recorder.Orders("all", "kits_shipped", len(res.Rows))
					if len(res.Failed) > 0 {
						failed := make([]string, 0, len(res.Failed))
						for name := range res.Failed {
							failed = append(failed, name)
						}
						sort.Strings(failed)
						return fmt.Errorf("kits report unavailable for %s", strings.Join(failed, ", "))
					}
					return nil
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "courier",
		Short: "Rebuild courier order KPIs from the courier reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, deps, func(ctx context.Context, s *session) error {
				if err := s.durableSheets(commit); err != nil {
					return err
				}
				store, err := s.openBlob(ctx)
				if err != nil {
					return err
				}
				prefix := strings.TrimSuffix(s.cfg.Storage.CourierPrefix, "/") + "/"
				return s.withSheets(ctx, func(sheet domain.SheetStore) error {
					res, err := dashboard.NewCourier(store, prefix, sheet, s.logger, dashboard.WithClock(s.deps.Now)).Run(ctx, commit)
					if err != nil {
						return err
					}
					s.recorder.Orders("all", "courier", res.Orders)
					return nil
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "forecast",
		Short: "Snapshot recent kit volume per project and weekday",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, deps, func(ctx context.Context, s *session) error {
				if err := s.durableSheets(commit); err != nil {
					return err
				}
				return s.withSheets(ctx, func(store domain.SheetStore) error {
					_, err := dashboard.NewForecast(store, s.logger, dashboard.WithClock(s.deps.Now)).Run(ctx, commit)
					return err
				})
			})
		},
	})
	return cmd
}

// durableSheets refuses to commit into the memory driver, whose sheets are
// gone when the process exits.
func (s *session) durableSheets(commit bool) error {
	if commit && s.cfg.Sheets.Driver == sheets.DriverMemory {
		return errVolatileSheets
	}
	return nil
}

func (s *session) withSheets(ctx context.Context, fn func(domain.SheetStore) error) (err error) {
	store, err := s.deps.OpenSheets(ctx, s.cfg.Sheets)
	if err != nil {
		return fmt.Errorf("open sheets: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			s.logger.Warn("closing sheets failed", zap.Error(cerr))
			err = errors.Join(err, cerr)
		}
	}()
	return fn(store)
}
