package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Check "pdk/plugin.go" for the built-in plugin functions description
 */

func (p *Plugin) Setup(store *pdk.Store) error {

	// Validate necessary parameters
	if store.Access["addr"] == "" {
		return fmt.Errorf("'access.addr' is not defined")
	}

	intDB := 0
	if store.Access["db"] != "" {
		var err error

		intDB, err = strconv.Atoi(store.Access["db"])
		if err != nil {
			return fmt.Errorf("'access.db' is not defined as an integer")
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     store.Access["addr"],
		Username: store.Access["user"],
		Password: store.Access["password"],
		DB:       intDB,
	})

	p.timeout = store.Timeout
	if p.timeout == 0 {
		p.timeout = 10 * time.Second
	}

	// Be able to cancel too long execution
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	// Check the connection
	err := client.Ping(ctx).Err()
	if err != nil {
		client.Close()
		return fmt.Errorf("Can't ping Redis: %s", err.Error())
	}

	p.client = client
	p.prefix = store.Access["prefix"]
	if p.prefix == "" {
		p.prefix = "river:"
	}

	return nil
}

func (p *Plugin) checkpointKey(river string) string {
	return p.prefix + river + ":checkpoint"
}

func (p *Plugin) ledgerKey(river string) string {
	return p.prefix + river + ":ledger"
}

func (p *Plugin) Load(ctx context.Context, river string) (pdk.Checkpoint, error) {
	fields, err := p.client.HGetAll(ctx, p.checkpointKey(river)).Result()
	if err != nil {
		return pdk.Checkpoint{}, fmt.Errorf("Can't load checkpoint of '%s': %s", river, err.Error())
	}

	return parseCheckpoint(fields)
}

func (p *Plugin) Ledger(ctx context.Context, river string) (map[string]string, error) {
	ledger, err := p.client.HGetAll(ctx, p.ledgerKey(river)).Result()
	if err != nil {
		return nil, fmt.Errorf("Can't read ledger of '%s': %s", river, err.Error())
	}

	return ledger, nil
}

/*
 * The checkpoint key is watched, so a concurrent commit of the same river
 * aborts this one instead of being overwritten.
 * Ledger and checkpoint updates go into one MULTI/EXEC block
 */
func (p *Plugin) Commit(ctx context.Context, river string, checkpoint pdk.Checkpoint, records []pdk.ChangeRecord) error {
	cpKey := p.checkpointKey(river)
	ledgerKey := p.ledgerKey(river)

	upserts := make(map[string]interface{})
	deletes := []string{}

	for _, r := range records {
		if r.Kind == pdk.Deleted {
			delete(upserts, r.NodeID)
			deletes = append(deletes, r.NodeID)
		} else {
			upserts[r.NodeID] = r.Fingerprint
		}
	}

	var observed int64
	if !checkpoint.Time.IsZero() {
		observed = checkpoint.Time.UnixNano()
	}

	err := p.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, cpKey).Result()
		if err != nil {
			return err
		}

		stored, err := parseCheckpoint(fields)
		if err != nil {
			return err
		}

		if checkpoint.Before(stored) {
			return fmt.Errorf("'%s' is at %d, can't commit %d: %w", river, stored.Sequence, checkpoint.Sequence, pdk.ErrCheckpointRegression)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// Deletions first: a node deleted and then re-created
			// in the same batch ends up in the upserts
			if len(deletes) != 0 {
				pipe.HDel(ctx, ledgerKey, deletes...)
			}
			if len(upserts) != 0 {
				pipe.HSet(ctx, ledgerKey, upserts)
			}

			pipe.HSet(ctx, cpKey,
				"sequence", strconv.FormatUint(checkpoint.Sequence, 10),
				"observed", strconv.FormatInt(observed, 10))

			return nil
		})

		return err
	}, cpKey)

	if errors.Is(err, pdk.ErrCheckpointRegression) {
		return err
	} else if err != nil {
		return fmt.Errorf("Can't commit checkpoint of '%s': %s", river, err.Error())
	}

	return nil
}

func (p *Plugin) Stop() error {
	if p.client != nil {
		return p.client.Close()
	}

	return nil
}

func parseCheckpoint(fields map[string]string) (pdk.Checkpoint, error) {
	checkpoint := pdk.Checkpoint{}

	if len(fields) == 0 {
		return checkpoint, nil
	}

	sequence, err := strconv.ParseUint(fields["sequence"], 10, 64)
	if err != nil {
		return checkpoint, fmt.Errorf("Invalid stored sequence '%s'", fields["sequence"])
	}
	checkpoint.Sequence = sequence

	observed, err := strconv.ParseInt(fields["observed"], 10, 64)
	if err != nil {
		return checkpoint, fmt.Errorf("Invalid stored observation time '%s'", fields["observed"])
	}
	if observed != 0 {
		checkpoint.Time = time.Unix(0, observed).UTC()
	}

	return checkpoint, nil
}
