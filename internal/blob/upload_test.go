package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"logistics/internal/config"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestUploadEncryptsAndKeysByPrefix(t *testing.T) {
	store := NewMemory()
	path := writeTemp(t, "DeliveryExpressOrder_2024_06_10_14_05.csv", "a,b\n")

	if !Upload(context.Background(), store, path, "delivery_express") {
		t.Fatal("upload reported failure")
	}
	info, err := store.Head(context.Background(), "delivery_express/DeliveryExpressOrder_2024_06_10_14_05.csv")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.Encryption != EncryptionAES256 || info.ContentType != "text/csv" || info.Size != 4 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestUploadNeverErrors(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	u := Uploader{Store: NewMemory(), Logger: zap.New(core)}
	ctx := context.Background()

	if u.Upload(ctx, filepath.Join(t.TempDir(), "missing.csv"), "usps") {
		t.Fatal("expected false for missing file")
	}
	path := writeTemp(t, "USPSOrder.csv", "x")
	if !u.Upload(ctx, path, "usps") {
		t.Fatal("first upload failed")
	}
	if u.Upload(ctx, path, "usps") {
		t.Fatal("expected duplicate upload to report false")
	}
	if (Uploader{}).Upload(ctx, path, "usps") {
		t.Fatal("expected false without a store")
	}
	if logs.FilterMessage("file already uploaded").Len() != 1 {
		t.Fatalf("expected duplicate warning, got %v", logs.All())
	}
	if logs.FilterMessage("cannot open file for upload").Len() != 1 {
		t.Fatalf("expected open error log, got %v", logs.All())
	}
}

func TestKey(t *testing.T) {
	if got := Key("", "a.csv"); got != "a.csv" {
		t.Fatalf("Key = %q", got)
	}
	if got := Key("courier/", "a.csv"); got != "courier/a.csv" {
		t.Fatalf("Key = %q", got)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.Storage{Driver: "memory"})
	if err != nil || s.Driver() != DriverMemory {
		t.Fatalf("memory: %v %v", s, err)
	}
	s, err = Open(ctx, config.Storage{Driver: "fs", FSRoot: t.TempDir()})
	if err != nil || s.Driver() != DriverFilesystem {
		t.Fatalf("fs: %v %v", s, err)
	}
	if _, err := Open(ctx, config.Storage{Driver: "gcs"}); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(ctx, config.Storage{Driver: "s3"}); err == nil {
		t.Fatal("expected missing bucket error")
	}
}
