package pdk

import (
	"time"
)

/*
 * Kind of a source-side mutation
 */
type ChangeKind int

const (
	Created ChangeKind = iota + 1
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}

	return "unknown"
}

/*
 * Marker of the synchronization progress.
 *
 * Sequence counts change records committed so far and never regresses,
 * Time is the source observation time of the last committed record
 */
type Checkpoint struct {
	Sequence uint64    `json:"sequence" bson:"sequence"`
	Time     time.Time `json:"time"     bson:"time"`
}

// IsZero reports whether nothing was synchronized yet
func (c Checkpoint) IsZero() bool {
	return c.Sequence == 0 && c.Time.IsZero()
}

// Before reports whether c is strictly behind other
func (c Checkpoint) Before(other Checkpoint) bool {
	return c.Sequence < other.Sequence
}

/*
 * A single node mutation to propagate into the index.
 * Properties and Labels are empty for the deleted nodes
 */
type ChangeRecord struct {
	Kind       ChangeKind
	NodeID     string
	Labels     []string
	Properties map[string]interface{}

	// Stable hash of the labels and properties,
	// stored in the ledger once the record is committed
	Fingerprint string

	// Checkpoint reached once this record is committed
	Position Checkpoint
}

/*
 * Kind of an index operation
 */
type ActionKind int

const (
	ActionIndex ActionKind = iota + 1
	ActionDelete
)

func (k ActionKind) String() string {
	if k == ActionDelete {
		return "delete"
	}

	return "index"
}

/*
 * Translated change: either a document to upsert
 * or a deletion marker with an empty Document
 */
type Action struct {
	Kind     ActionKind
	ID       string
	Document map[string]interface{}
}
