package pdk

import (
	"context"
)

/*
 * Plugin interface to be implemented by the graph store watchers
 */
type SourcePlugin interface {
	// Return river instance configuration
	Conf() *River

	// Set specific parameters for the river instance,
	// establish connection, etc.
	// Ledger gives read access to the committed node fingerprints.
	// An ErrSourceUnavailable error means the plugin is configured
	// but the graph store isn't reachable yet
	Setup(*River, Ledger) error

	// Return changes since the given checkpoint in the source's
	// natural order, at most "batchSize" records,
	// and the checkpoint reached after the last one
	Poll(context.Context, Checkpoint) ([]ChangeRecord, Checkpoint, error)

	// Gracefully disconnect from the graph store
	Stop() error
}

/*
 * Plugin interface to be implemented by the index writers
 */
type SinkPlugin interface {
	// Return river instance configuration
	Conf() *River

	// Set specific parameters for the river instance,
	// establish connection, etc.
	// An ErrSinkUnavailable error means the plugin is configured
	// but the index isn't reachable yet
	Setup(*River) error

	// Apply the given actions in order.
	// Returns the number of leading actions acknowledged by the index
	Apply(context.Context, []Action) (int, error)

	// Make all the applied actions visible to searches
	Refresh(context.Context) error

	// Count documents matching exactly the given field value
	Count(ctx context.Context, field, value string) (int64, error)

	// Gracefully disconnect from the index
	Stop() error
}

/*
 * Plugin interface to be implemented by the checkpoint stores.
 * Every method receives a river name, so one store can serve
 * many rivers without sharing any state between them
 */
type StorePlugin interface {
	// Set connection parameters & prepare the schema
	Setup(*Store) error

	// Last committed checkpoint, zero value if unknown river
	Load(ctx context.Context, river string) (Checkpoint, error)

	// Committed node ID -> fingerprint pairs
	Ledger(ctx context.Context, river string) (map[string]string, error)

	// Persist the checkpoint together with the ledger changes
	// of the acknowledged records. Must fail with ErrCheckpointRegression
	// if the checkpoint is behind the stored one
	Commit(ctx context.Context, river string, checkpoint Checkpoint, records []ChangeRecord) error

	// Close connections
	Stop() error
}

/*
 * Read-only view of a single river's ledger
 */
type Ledger interface {
	Synced(ctx context.Context) (map[string]string, error)
}

type storeLedger struct {
	store StorePlugin
	river string
}

func (l *storeLedger) Synced(ctx context.Context) (map[string]string, error) {
	return l.store.Ledger(ctx, l.river)
}

/*
 * Bind a store to the river name
 */
func StoreLedger(store StorePlugin, river string) Ledger {
	return &storeLedger{store: store, river: river}
}

/*
 * Apply Commit's ledger semantics to a plain map,
 * shared by the stores keeping the ledger in memory or in a document
 */
func ApplyToLedger(ledger map[string]string, records []ChangeRecord) {
	for _, r := range records {
		if r.Kind == Deleted {
			delete(ledger, r.NodeID)
		} else {
			ledger[r.NodeID] = r.Fingerprint
		}
	}
}
