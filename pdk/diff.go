package pdk

import (
	"sort"
	"time"
)

/*
 * Graph node as seen by a full scan of the source
 */
type Node struct {
	ID         string
	Labels     []string
	Properties map[string]interface{}
}

/*
 * Compare a complete scan of the graph with the committed ledger.
 *
 * Nodes missing in the ledger are created, nodes with a different
 * fingerprint are updated, ledger entries missing in the scan are deleted.
 * Upserts keep the scan order, deletions follow sorted by ID.
 * Every node produces at most one record, so changes of the same node
 * can't be reordered within a batch.
 *
 * At most "limit" records are returned, positions continue
 * from the "since" checkpoint
 */
func Diff(nodes []Node, ledger map[string]string, since Checkpoint, limit int, observed time.Time) []ChangeRecord {
	records := []ChangeRecord{}
	seen := make(map[string]bool, len(nodes))

	for _, n := range nodes {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true

		fingerprint := Fingerprint(n.Labels, n.Properties)
		committed, known := ledger[n.ID]

		var kind ChangeKind

		switch {
		case !known:
			kind = Created
		case committed != fingerprint:
			kind = Updated
		default:
			continue
		}

		records = append(records, ChangeRecord{
			Kind:        kind,
			NodeID:      n.ID,
			Labels:      n.Labels,
			Properties:  n.Properties,
			Fingerprint: fingerprint,
		})
	}

	deleted := []string{}
	for id := range ledger {
		if !seen[id] {
			deleted = append(deleted, id)
		}
	}
	sort.Strings(deleted)

	for _, id := range deleted {
		records = append(records, ChangeRecord{Kind: Deleted, NodeID: id})
	}

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	for i := range records {
		records[i].Position = Checkpoint{
			Sequence: since.Sequence + uint64(i) + 1,
			Time:     observed,
		}
	}

	return records
}
