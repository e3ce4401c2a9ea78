// Package blob is the object storage sink for order files and courier
// reports. Callers depend on Store; backends live under internal/infra/blob.
package blob

import (
	"logistics/internal/blob/core"
)

type (
	// Driver identifies a storage backend.
	Driver = core.Driver
	// Encryption names a server-side encryption algorithm.
	Encryption = core.Encryption
	// PutOptions configures a write.
	PutOptions = core.PutOptions
	// Info describes a stored object.
	Info = core.Info
	// Store is the interface every backend implements.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
	EncryptionAES256 = core.EncryptionAES256
)

var (
	ErrExists   = core.ErrExists
	ErrNotFound = core.ErrNotFound
)
