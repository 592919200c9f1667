package postgresql

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/cert-lv/neo4j-river/pdk"
)

const schema = `
CREATE TABLE IF NOT EXISTS river_checkpoints (
	river       TEXT PRIMARY KEY,
	sequence    BIGINT NOT NULL,
	observed_at BIGINT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS river_ledger (
	river       TEXT NOT NULL,
	node_id     TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	PRIMARY KEY (river, node_id)
);
`

type ledgerRow struct {
	NodeID      string `db:"node_id"`
	Fingerprint string `db:"fingerprint"`
}

/*
 * Check "pdk/plugin.go" for the built-in plugin functions description
 */

func (p *Plugin) Setup(store *pdk.Store) error {

	// Validate necessary parameters
	if store.Access["user"] == "" {
		return fmt.Errorf("'access.user' is not defined")
	} else if store.Access["password"] == "" {
		return fmt.Errorf("'access.password' is not defined")
	} else if store.Access["addr"] == "" {
		return fmt.Errorf("'access.addr' is not defined")
	} else if store.Access["db"] == "" {
		return fmt.Errorf("'access.db' is not defined")
	}

	// URL-encode password in case it contains special characters,
	// which will break the configuration string.
	// Also Golang encodes space to + sign. We need %20 instead
	password := strings.ReplaceAll(url.QueryEscape(store.Access["password"]), "+", "%20")

	config, err := pgxpool.ParseConfig("postgres://" + store.Access["user"] + ":" + password + "@" + store.Access["addr"] + "/" + store.Access["db"])
	if err != nil {
		return err
	}

	config.MaxConns = 8

	p.timeout = store.Timeout
	if p.timeout == 0 {
		p.timeout = 10 * time.Second
	}

	// Be able to cancel too long execution
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	// Connect to the database
	conn, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return err
	}

	// Check the connection
	err = conn.Ping(ctx)
	if err != nil {
		conn.Close()
		return err
	}

	_, err = conn.Exec(ctx, schema)
	if err != nil {
		conn.Close()
		return fmt.Errorf("Can't prepare the schema: %s", err.Error())
	}

	p.connection = conn

	return nil
}

func (p *Plugin) Load(ctx context.Context, river string) (pdk.Checkpoint, error) {
	var sequence, observed int64

	err := p.connection.QueryRow(ctx,
		`SELECT sequence, observed_at FROM river_checkpoints WHERE river = $1`, river).
		Scan(&sequence, &observed)

	if errors.Is(err, pgx.ErrNoRows) {
		return pdk.Checkpoint{}, nil
	} else if err != nil {
		return pdk.Checkpoint{}, fmt.Errorf("Can't load checkpoint of '%s': %s", river, err.Error())
	}

	checkpoint := pdk.Checkpoint{Sequence: uint64(sequence)}
	if observed != 0 {
		checkpoint.Time = time.Unix(0, observed).UTC()
	}

	return checkpoint, nil
}

func (p *Plugin) Ledger(ctx context.Context, river string) (map[string]string, error) {
	rows := []*ledgerRow{}

	err := pgxscan.Select(ctx, p.connection, &rows,
		`SELECT node_id, fingerprint FROM river_ledger WHERE river = $1`, river)
	if err != nil {
		return nil, fmt.Errorf("Can't read ledger of '%s': %s", river, err.Error())
	}

	ledger := make(map[string]string, len(rows))
	for _, row := range rows {
		ledger[row.NodeID] = row.Fingerprint
	}

	return ledger, nil
}

/*
 * Ledger changes and the checkpoint go into one transaction.
 * The checkpoint row is locked, so two commits of the same river
 * can't interleave
 */
func (p *Plugin) Commit(ctx context.Context, river string, checkpoint pdk.Checkpoint, records []pdk.ChangeRecord) error {
	tx, err := p.connection.Begin(ctx)
	if err != nil {
		return fmt.Errorf("Can't begin transaction: %s", err.Error())
	}
	defer tx.Rollback(ctx)

	var stored int64

	err = tx.QueryRow(ctx,
		`SELECT sequence FROM river_checkpoints WHERE river = $1 FOR UPDATE`, river).Scan(&stored)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("Can't read checkpoint of '%s': %s", river, err.Error())
	}

	if checkpoint.Sequence < uint64(stored) {
		return fmt.Errorf("'%s' is at %d, can't commit %d: %w", river, stored, checkpoint.Sequence, pdk.ErrCheckpointRegression)
	}

	batch := &pgx.Batch{}

	for _, r := range records {
		if r.Kind == pdk.Deleted {
			batch.Queue(`DELETE FROM river_ledger WHERE river = $1 AND node_id = $2`, river, r.NodeID)
		} else {
			batch.Queue(`INSERT INTO river_ledger (river, node_id, fingerprint) VALUES ($1, $2, $3)
				ON CONFLICT (river, node_id) DO UPDATE SET fingerprint = EXCLUDED.fingerprint`,
				river, r.NodeID, r.Fingerprint)
		}
	}

	var observed int64
	if !checkpoint.Time.IsZero() {
		observed = checkpoint.Time.UnixNano()
	}

	batch.Queue(`INSERT INTO river_checkpoints (river, sequence, observed_at, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (river) DO UPDATE SET
			sequence = EXCLUDED.sequence,
			observed_at = EXCLUDED.observed_at,
			updated_at = now()`,
		river, int64(checkpoint.Sequence), observed)

	results := tx.SendBatch(ctx, batch)

	for i := 0; i < batch.Len(); i++ {
		_, err = results.Exec()
		if err != nil {
			results.Close()
			return fmt.Errorf("Can't update ledger or checkpoint of '%s': %s", river, err.Error())
		}
	}

	err = results.Close()
	if err != nil {
		return fmt.Errorf("Can't close batch: %s", err.Error())
	}

	err = tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("Can't commit transaction: %s", err.Error())
	}

	return nil
}

func (p *Plugin) Stop() error {
	if p.connection != nil {
		p.connection.Close()
	}

	return nil
}
