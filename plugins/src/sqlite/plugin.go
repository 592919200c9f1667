package sqlite

import (
	"database/sql"
	"time"
)

/*
 * Export symbols
 */
var (
	Name    = "sqlite"
	Version = "2.0.0"
)

/*
 * Checkpoint store in a local SQLite file
 */
type Plugin struct {
	db      *sql.DB
	timeout time.Duration
}
