//go:build purego || !sqlite_vec

package storage

// Compiled by default. Uses a pure Go SQLite with similarity scored in Go,
// so no C compiler is required.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"

	// dsnOptions are applied to every connection the driver opens
	dsnOptions = "_pragma=foreign_keys(1)"
)
