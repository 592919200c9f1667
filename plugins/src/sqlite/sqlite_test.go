package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cert-lv/neo4j-river/pdk"
	"github.com/cert-lv/neo4j-river/pdk/storetest"
)

func open(t *testing.T, path string) *Plugin {
	p := &Plugin{}

	err := p.Setup(&pdk.Store{
		Plugin:  Name,
		Timeout: 5 * time.Second,
		Access:  map[string]string{"path": path},
	})
	if err != nil {
		t.Fatalf("Can't open '%s': %s", path, err.Error())
	}

	return p
}

func TestStore(t *testing.T) {
	p := open(t, filepath.Join(t.TempDir(), "river.db"))
	defer p.Stop()

	storetest.Run(t, p)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "river.db")
	ctx := context.Background()

	p := open(t, path)

	err := p.Commit(ctx, "people", pdk.Checkpoint{Sequence: 7}, []pdk.ChangeRecord{
		{Kind: pdk.Created, NodeID: "1", Fingerprint: "a"},
	})
	if err != nil {
		t.Fatalf("Can't commit: %s", err.Error())
	}
	p.Stop()

	// Survives a restart
	p = open(t, path)
	defer p.Stop()

	cp, err := p.Load(ctx, "people")
	if err != nil || cp.Sequence != 7 || !cp.Time.IsZero() {
		t.Errorf("Unexpected checkpoint after reopening: %+v, %v", cp, err)
	}

	ledger, err := p.Ledger(ctx, "people")
	if err != nil || ledger["1"] != "a" {
		t.Errorf("Unexpected ledger after reopening: %v, %v", ledger, err)
	}
}

func TestSetup(t *testing.T) {
	p := &Plugin{}
	if err := p.Setup(&pdk.Store{Access: map[string]string{}}); err == nil {
		t.Errorf("Setup without path must fail")
	}
}
