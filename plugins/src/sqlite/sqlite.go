package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cert-lv/neo4j-river/pdk"
)

const schema = `
CREATE TABLE IF NOT EXISTS river_checkpoints (
	river       TEXT PRIMARY KEY,
	sequence    INTEGER NOT NULL,
	observed_at INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS river_ledger (
	river       TEXT NOT NULL,
	node_id     TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	PRIMARY KEY (river, node_id)
);
`

/*
 * Check "pdk/plugin.go" for the built-in plugin functions description
 */

func (p *Plugin) Setup(store *pdk.Store) error {

	// Validate necessary parameters
	if store.Access["path"] == "" {
		return fmt.Errorf("'access.path' is not defined")
	}

	db, err := sql.Open("sqlite3", "file:"+store.Access["path"]+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("Can't open '%s': %s", store.Access["path"], err.Error())
	}

	// SQLite allows a single writer,
	// also keeps ":memory:" databases on one connection
	db.SetMaxOpenConns(1)

	p.timeout = store.Timeout
	if p.timeout == 0 {
		p.timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err = db.ExecContext(ctx, schema)
	if err != nil {
		db.Close()
		return fmt.Errorf("Can't prepare the schema: %s", err.Error())
	}

	p.db = db

	return nil
}

func (p *Plugin) Load(ctx context.Context, river string) (pdk.Checkpoint, error) {
	var sequence, observed int64

	err := p.db.QueryRowContext(ctx,
		`SELECT sequence, observed_at FROM river_checkpoints WHERE river = ?`, river).
		Scan(&sequence, &observed)

	if err == sql.ErrNoRows {
		return pdk.Checkpoint{}, nil
	} else if err != nil {
		return pdk.Checkpoint{}, fmt.Errorf("Can't load checkpoint of '%s': %s", river, err.Error())
	}

	return pdk.Checkpoint{Sequence: uint64(sequence), Time: fromUnixNano(observed)}, nil
}

func (p *Plugin) Ledger(ctx context.Context, river string) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT node_id, fingerprint FROM river_ledger WHERE river = ?`, river)
	if err != nil {
		return nil, fmt.Errorf("Can't read ledger of '%s': %s", river, err.Error())
	}
	defer rows.Close()

	ledger := make(map[string]string)

	for rows.Next() {
		var id, fingerprint string

		err := rows.Scan(&id, &fingerprint)
		if err != nil {
			return nil, fmt.Errorf("Can't scan ledger row: %s", err.Error())
		}

		ledger[id] = fingerprint
	}

	return ledger, rows.Err()
}

/*
 * Ledger changes and the checkpoint go into one transaction,
 * either both are stored or none
 */
func (p *Plugin) Commit(ctx context.Context, river string, checkpoint pdk.Checkpoint, records []pdk.ChangeRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Can't begin transaction: %s", err.Error())
	}
	defer tx.Rollback()

	var stored int64

	err = tx.QueryRowContext(ctx,
		`SELECT sequence FROM river_checkpoints WHERE river = ?`, river).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("Can't read checkpoint of '%s': %s", river, err.Error())
	}

	if checkpoint.Sequence < uint64(stored) {
		return fmt.Errorf("'%s' is at %d, can't commit %d: %w", river, stored, checkpoint.Sequence, pdk.ErrCheckpointRegression)
	}

	for _, r := range records {
		if r.Kind == pdk.Deleted {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM river_ledger WHERE river = ? AND node_id = ?`, river, r.NodeID)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO river_ledger (river, node_id, fingerprint) VALUES (?, ?, ?)
				 ON CONFLICT(river, node_id) DO UPDATE SET fingerprint = excluded.fingerprint`,
				river, r.NodeID, r.Fingerprint)
		}

		if err != nil {
			return fmt.Errorf("Can't update ledger for node '%s': %s", r.NodeID, err.Error())
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO river_checkpoints (river, sequence, observed_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(river) DO UPDATE SET
			sequence = excluded.sequence,
			observed_at = excluded.observed_at,
			updated_at = excluded.updated_at`,
		river, int64(checkpoint.Sequence), toUnixNano(checkpoint.Time), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("Can't save checkpoint of '%s': %s", river, err.Error())
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("Can't commit transaction: %s", err.Error())
	}

	return nil
}

func (p *Plugin) Stop() error {
	if p.db != nil {
		return p.db.Close()
	}

	return nil
}

// Zero time is stored as 0 instead of an out of range nanoseconds value
func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n).UTC()
}
