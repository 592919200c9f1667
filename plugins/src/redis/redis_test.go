package redis

import (
	"os"
	"testing"
	"time"

	"github.com/cert-lv/neo4j-river/pdk"
	"github.com/cert-lv/neo4j-river/pdk/storetest"
)

/*
 * Needs a running server, e.g. REDIS_ADDR=localhost:6379
 */
func TestStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR is not set")
	}

	p := &Plugin{}
	err := p.Setup(&pdk.Store{
		Plugin:  Name,
		Timeout: 5 * time.Second,
		Access:  map[string]string{"addr": addr, "prefix": "river-test:"},
	})
	if err != nil {
		t.Fatalf("Can't setup: %s", err.Error())
	}
	defer p.Stop()

	storetest.Run(t, p)
}

func TestParseCheckpoint(t *testing.T) {
	tables := []struct {
		fields   map[string]string
		sequence uint64
		valid    bool
	}{
		{map[string]string{}, 0, true},
		{map[string]string{"sequence": "12", "observed": "0"}, 12, true},
		{map[string]string{"sequence": "12", "observed": "1700000000000000000"}, 12, true},
		{map[string]string{"sequence": "-1", "observed": "0"}, 0, false},
		{map[string]string{"sequence": "3", "observed": "soon"}, 0, false},
	}

	for _, table := range tables {
		cp, err := parseCheckpoint(table.fields)
		if table.valid != (err == nil) {
			t.Errorf("%v: unexpected error: %v", table.fields, err)
			continue
		}
		if table.valid && cp.Sequence != table.sequence {
			t.Errorf("%v: sequence %d, expected: %d", table.fields, cp.Sequence, table.sequence)
		}
	}
}

func TestSetup(t *testing.T) {
	p := &Plugin{}
	if err := p.Setup(&pdk.Store{Access: map[string]string{"addr": "localhost:6379", "db": "one"}}); err == nil {
		t.Errorf("Setup with non-integer db must fail")
	}
}
