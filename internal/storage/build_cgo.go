//go:build sqlite_vec && !purego

package storage

// Compiled with CGO and the sqlite_vec tag. The sqlite-vec extension is
// registered for every connection at init, so Query computes cosine distance
// in SQL.
//
// Build command:
//   CGO_ENABLED=1 go build -tags sqlite_vec ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"

	// dsnOptions are applied to every connection the driver opens
	dsnOptions = "_foreign_keys=on"
)

func init() {
	sqlite_vec.Auto()
}
