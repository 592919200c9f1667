package mysql

import (
	"database/sql"
	"time"
)

/*
 * Export symbols
 */
var (
	Name    = "mysql"
	Version = "2.0.0"
)

/*
 * Checkpoint store in a MySQL/MariaDB database
 */
type Plugin struct {
	db      *sql.DB
	timeout time.Duration
}
