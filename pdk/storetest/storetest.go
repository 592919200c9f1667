/*
 * Behaviour every checkpoint store must share,
 * run by the tests of each store plugin
 */

package storetest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Run the shared checks against a ready to use store.
 * River names are random, so a shared database can be used
 */
func Run(t *testing.T, store pdk.StorePlugin) {
	ctx := context.Background()
	river := "test-" + uuid.NewString()
	other := "test-" + uuid.NewString()

	// Millisecond precision survives every backend
	observed := time.Now().UTC().Truncate(time.Millisecond)

	cp, err := store.Load(ctx, river)
	if err != nil {
		t.Fatalf("Can't load unknown river: %s", err.Error())
	}
	if !cp.IsZero() {
		t.Errorf("Unknown river must have zero checkpoint, got: %+v", cp)
	}

	first := pdk.Checkpoint{Sequence: 2, Time: observed}
	err = store.Commit(ctx, river, first, []pdk.ChangeRecord{
		{Kind: pdk.Created, NodeID: "4:x:1", Fingerprint: "a"},
		{Kind: pdk.Created, NodeID: "4:x:2", Fingerprint: "b"},
	})
	if err != nil {
		t.Fatalf("Can't commit: %s", err.Error())
	}

	check(t, store, river, first, map[string]string{"4:x:1": "a", "4:x:2": "b"})

	second := pdk.Checkpoint{Sequence: 4, Time: observed.Add(time.Second)}
	err = store.Commit(ctx, river, second, []pdk.ChangeRecord{
		{Kind: pdk.Updated, NodeID: "4:x:1", Fingerprint: "c"},
		{Kind: pdk.Deleted, NodeID: "4:x:2"},
	})
	if err != nil {
		t.Fatalf("Can't commit: %s", err.Error())
	}

	check(t, store, river, second, map[string]string{"4:x:1": "c"})

	// A lower checkpoint changes nothing
	err = store.Commit(ctx, river, pdk.Checkpoint{Sequence: 3, Time: observed}, []pdk.ChangeRecord{
		{Kind: pdk.Deleted, NodeID: "4:x:1"},
	})
	if !errors.Is(err, pdk.ErrCheckpointRegression) {
		t.Errorf("Regression must be rejected, got: %v", err)
	}

	check(t, store, river, second, map[string]string{"4:x:1": "c"})

	// The same checkpoint again is not a regression
	if err := store.Commit(ctx, river, second, nil); err != nil {
		t.Errorf("Can't commit the same checkpoint again: %s", err.Error())
	}

	// Rivers don't share anything
	check(t, store, other, pdk.Checkpoint{}, map[string]string{})

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	err = store.Commit(cancelled, river, pdk.Checkpoint{Sequence: 9}, []pdk.ChangeRecord{
		{Kind: pdk.Created, NodeID: "4:x:9", Fingerprint: "z"},
	})
	if err == nil {
		t.Errorf("Commit with a cancelled context must fail")
	}

	check(t, store, river, second, map[string]string{"4:x:1": "c"})
}

func check(t *testing.T, store pdk.StorePlugin, river string, checkpoint pdk.Checkpoint, ledger map[string]string) {
	t.Helper()

	ctx := context.Background()

	cp, err := store.Load(ctx, river)
	if err != nil {
		t.Fatalf("Can't load checkpoint: %s", err.Error())
	}
	if cp.Sequence != checkpoint.Sequence || !cp.Time.Equal(checkpoint.Time) {
		t.Errorf("Checkpoint is %+v, expected: %+v", cp, checkpoint)
	}

	stored, err := store.Ledger(ctx, river)
	if err != nil {
		t.Fatalf("Can't read ledger: %s", err.Error())
	}
	if len(stored) == 0 && len(ledger) == 0 {
		return
	}
	if !reflect.DeepEqual(stored, ledger) {
		t.Errorf("Ledger is %v, expected: %v", stored, ledger)
	}
}
