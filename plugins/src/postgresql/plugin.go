package postgresql

import (
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

/*
 * Export symbols
 */
var (
	Name    = "postgresql"
	Version = "2.0.0"
)

/*
 * Checkpoint store in a PostgreSQL database,
 * for the rivers running away from a persistent local disk
 */
type Plugin struct {
	connection *pgxpool.Pool
	timeout    time.Duration
}
