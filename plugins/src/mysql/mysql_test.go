package mysql

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cert-lv/neo4j-river/pdk"
	"github.com/cert-lv/neo4j-river/pdk/storetest"
)

func TestFormatDSN(t *testing.T) {
	dsn, err := formatDSN(&pdk.Store{
		Timeout: 5 * time.Second,
		Access: map[string]string{
			"user":     "river",
			"password": "p@ss:word",
			"addr":     "localhost:3306",
			"db":       "river",
		},
	})
	if err != nil {
		t.Fatalf("Can't format DSN: %s", err.Error())
	}

	if !strings.HasPrefix(dsn, "river:p@ss:word@tcp(localhost:3306)/river") {
		t.Errorf("Unexpected DSN: %s", dsn)
	}
	if !strings.Contains(dsn, "timeout=5s") {
		t.Errorf("Timeout is missing: %s", dsn)
	}

	tables := []map[string]string{
		{},
		{"user": "river"},
		{"user": "river", "addr": "localhost:3306"},
	}

	for _, access := range tables {
		if _, err := formatDSN(&pdk.Store{Access: access}); err == nil {
			t.Errorf("DSN with %v must fail", access)
		}
	}
}

/*
 * Needs a running server:
 * MYSQL_ADDR=localhost:3306 MYSQL_USER=river MYSQL_PASSWORD=... MYSQL_DB=river
 */
func TestStore(t *testing.T) {
	addr := os.Getenv("MYSQL_ADDR")
	if addr == "" {
		t.Skip("MYSQL_ADDR is not set")
	}

	p := &Plugin{}
	err := p.Setup(&pdk.Store{
		Plugin:  Name,
		Timeout: 5 * time.Second,
		Access: map[string]string{
			"addr":     addr,
			"user":     os.Getenv("MYSQL_USER"),
			"password": os.Getenv("MYSQL_PASSWORD"),
			"db":       os.Getenv("MYSQL_DB"),
		},
	})
	if err != nil {
		t.Fatalf("Can't setup: %s", err.Error())
	}
	defer p.Stop()

	storetest.Run(t, p)
}
