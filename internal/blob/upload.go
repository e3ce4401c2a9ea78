package blob

import (
	"context"
	"errors"
	"mime"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"logistics/internal/logging"
)

// Uploader copies local order files into a Store with AES-256 server-side
// encryption.
type Uploader struct {
	Store  Store
	Logger *zap.Logger
}

// Upload stores localFile under prefix/<basename>. Failures are logged and
// reported as false; they never abort the caller.
func (u Uploader) Upload(ctx context.Context, localFile, prefix string) bool {
	logger := logging.OrNop(u.Logger)
	if u.Store == nil {
		logger.Error("no object store configured", zap.String("file", localFile))
		return false
	}
	key := Key(prefix, filepath.Base(localFile))
	logger = logger.With(zap.String("file", localFile), zap.String("key", key), zap.String("driver", string(u.Store.Driver())))

	f, err := os.Open(localFile)
	if err != nil {
		logger.Error("cannot open file for upload", zap.Error(err))
		return false
	}
	defer func() { _ = f.Close() }()

	info, err := u.Store.Put(ctx, key, f, PutOptions{
		ContentType:          contentType(localFile),
		ServerSideEncryption: EncryptionAES256,
	})
	switch {
	case errors.Is(err, ErrExists):
		logger.Warn("file already uploaded")
		return false
	case err != nil:
		logger.Error("upload failed", zap.Error(err))
		return false
	}
	logger.Info("uploaded file", zap.Int64("size", info.Size))
	return true
}

// Upload is Uploader{Store: store}.Upload without logging.
func Upload(ctx context.Context, store Store, localFile, prefix string) bool {
	return Uploader{Store: store}.Upload(ctx, localFile, prefix)
}

func contentType(name string) string {
	ext := filepath.Ext(name)
	if ext == ".csv" {
		return "text/csv"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Key joins a prefix and an object name with a slash.
func Key(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
