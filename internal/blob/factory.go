package blob

import (
	"context"
	"fmt"

	"logistics/internal/config"
	"logistics/internal/infra/blob/fs"
	"logistics/internal/infra/blob/memory"
	"logistics/internal/infra/blob/s3"
)

// Open selects a Store for the configured driver.
func Open(ctx context.Context, cfg config.Storage) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3, "":
		return NewS3(ctx, s3.Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewFilesystem returns a Store rooted at a local directory.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-process Store.
func NewMemory() Store { return memory.New() }

// NewS3 returns a Store backed by an S3 bucket.
func NewS3(ctx context.Context, cfg s3.Config) (Store, error) {
	return s3.New(ctx, cfg)
}
