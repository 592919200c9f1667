package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/cert-lv/neo4j-river/pdk"
)

// The driver runs one statement per call
var schema = []string{
	`CREATE TABLE IF NOT EXISTS river_checkpoints (
		river       VARCHAR(255) NOT NULL PRIMARY KEY,
		sequence    BIGINT UNSIGNED NOT NULL,
		observed_at BIGINT NOT NULL,
		updated_at  DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS river_ledger (
		river       VARCHAR(255) NOT NULL,
		node_id     VARCHAR(255) NOT NULL,
		fingerprint VARCHAR(64) NOT NULL,
		PRIMARY KEY (river, node_id)
	)`,
}

/*
 * Check "pdk/plugin.go" for the built-in plugin functions description
 */

func (p *Plugin) Setup(store *pdk.Store) error {
	dsn, err := formatDSN(store)
	if err != nil {
		return err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("Can't open MySQL connection: %s", err.Error())
	}

	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(5 * time.Minute)

	p.timeout = store.Timeout
	if p.timeout == 0 {
		p.timeout = 10 * time.Second
	}

	// Be able to cancel too long execution
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	// Check the connection
	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return fmt.Errorf("Can't ping MySQL: %s", err.Error())
	}

	for _, statement := range schema {
		_, err = db.ExecContext(ctx, statement)
		if err != nil {
			db.Close()
			return fmt.Errorf("Can't prepare the schema: %s", err.Error())
		}
	}

	p.db = db

	return nil
}

/*
 * Build the driver's connection string from the store access settings
 */
func formatDSN(store *pdk.Store) (string, error) {

	// Validate necessary parameters
	if store.Access["user"] == "" {
		return "", fmt.Errorf("'access.user' is not defined")
	} else if store.Access["addr"] == "" {
		return "", fmt.Errorf("'access.addr' is not defined")
	} else if store.Access["db"] == "" {
		return "", fmt.Errorf("'access.db' is not defined")
	}

	conf := mysql.NewConfig()
	conf.User = store.Access["user"]
	conf.Passwd = store.Access["password"]
	conf.Net = "tcp"
	conf.Addr = store.Access["addr"]
	conf.DBName = store.Access["db"]
	conf.Timeout = store.Timeout

	return conf.FormatDSN(), nil
}

func (p *Plugin) Load(ctx context.Context, river string) (pdk.Checkpoint, error) {
	var sequence uint64
	var observed int64

	err := p.db.QueryRowContext(ctx,
		`SELECT sequence, observed_at FROM river_checkpoints WHERE river = ?`, river).
		Scan(&sequence, &observed)

	if err == sql.ErrNoRows {
		return pdk.Checkpoint{}, nil
	} else if err != nil {
		return pdk.Checkpoint{}, fmt.Errorf("Can't load checkpoint of '%s': %s", river, err.Error())
	}

	checkpoint := pdk.Checkpoint{Sequence: sequence}
	if observed != 0 {
		checkpoint.Time = time.Unix(0, observed).UTC()
	}

	return checkpoint, nil
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

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Can't read ledger of '%s': %s", river, err.Error())
	}

	return ledger, nil
}

/*
 * Ledger changes and the checkpoint go into one transaction,
 * the locked checkpoint row serializes commits of the same river
 */
func (p *Plugin) Commit(ctx context.Context, river string, checkpoint pdk.Checkpoint, records []pdk.ChangeRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Can't begin transaction: %s", err.Error())
	}
	defer tx.Rollback()

	var stored uint64

	err = tx.QueryRowContext(ctx,
		`SELECT sequence FROM river_checkpoints WHERE river = ? FOR UPDATE`, river).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("Can't read checkpoint of '%s': %s", river, err.Error())
	}

	if checkpoint.Sequence < stored {
		return fmt.Errorf("'%s' is at %d, can't commit %d: %w", river, stored, checkpoint.Sequence, pdk.ErrCheckpointRegression)
	}

	for _, r := range records {
		if r.Kind == pdk.Deleted {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM river_ledger WHERE river = ? AND node_id = ?`, river, r.NodeID)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO river_ledger (river, node_id, fingerprint) VALUES (?, ?, ?)
				 ON DUPLICATE KEY UPDATE fingerprint = VALUES(fingerprint)`,
				river, r.NodeID, r.Fingerprint)
		}

		if err != nil {
			return fmt.Errorf("Can't update ledger for node '%s': %s", r.NodeID, err.Error())
		}
	}

	var observed int64
	if !checkpoint.Time.IsZero() {
		observed = checkpoint.Time.UnixNano()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO river_checkpoints (river, sequence, observed_at, updated_at) VALUES (?, ?, ?, UTC_TIMESTAMP(6))
		 ON DUPLICATE KEY UPDATE
			sequence = VALUES(sequence),
			observed_at = VALUES(observed_at),
			updated_at = VALUES(updated_at)`,
		river, checkpoint.Sequence, observed)
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
