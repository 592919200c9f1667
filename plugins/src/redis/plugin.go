package redis

import (
	"time"

	"github.com/redis/go-redis/v9"
)

/*
 * Export symbols
 */
var (
	Name    = "redis"
	Version = "2.0.0"
)

/*
 * Checkpoint store in Redis hashes:
 *
 *   <prefix><river>:checkpoint - "sequence" and "observed" fields
 *   <prefix><river>:ledger     - node ID -> fingerprint
 */
type Plugin struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}
