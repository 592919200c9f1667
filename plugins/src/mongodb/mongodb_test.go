package mongodb

import (
	"os"
	"testing"
	"time"

	"github.com/cert-lv/neo4j-river/pdk"
	"github.com/cert-lv/neo4j-river/pdk/storetest"
)

/*
 * Needs a running server, e.g. MONGODB_ADDR=localhost:27017
 */
func TestStore(t *testing.T) {
	addr := os.Getenv("MONGODB_ADDR")
	if addr == "" {
		t.Skip("MONGODB_ADDR is not set")
	}

	p := &Plugin{}
	err := p.Setup(&pdk.Store{
		Plugin:  Name,
		Timeout: 5 * time.Second,
		Access:  map[string]string{"addr": addr, "db": "river_test"},
	})
	if err != nil {
		t.Fatalf("Can't setup: %s", err.Error())
	}
	defer p.Stop()

	storetest.Run(t, p)
}

func TestToCheckpoint(t *testing.T) {
	observed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("EET", 3*3600))

	cp := toCheckpoint(&checkpointDoc{Sequence: 5, Observed: observed})
	if cp.Sequence != 5 || !cp.Time.Equal(observed) || cp.Time.Location() != time.UTC {
		t.Errorf("Unexpected checkpoint: %+v", cp)
	}

	if cp := toCheckpoint(&checkpointDoc{Sequence: 1}); !cp.Time.IsZero() {
		t.Errorf("Zero time must stay zero: %+v", cp)
	}
}
