package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"logistics/internal/export"
)

func newUploadCommand(opts *RootOptions, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload previously written order files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delivery",
		Short: "Upload today's newest delivery-service order file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, deps, func(ctx context.Context, s *session) error {
				path, err := export.Latest(s.cfg.DataDir, export.FormatDelivery, s.deps.Now())
				if err != nil {
					return err
				}
				if !s.upload(ctx, path, s.cfg.Storage.DeliveryPrefix) {
					return errUploadFailed
				}
				return nil
			})
		},
	})
	return cmd
}

var errUploadFailed = errors.New("upload failed")
