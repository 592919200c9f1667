package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cert-lv/neo4j-river/pdk"
	"github.com/cert-lv/neo4j-river/plugins/src/memory"
	"github.com/cert-lv/neo4j-river/river"
)

func TestParseConfig(t *testing.T) {
	c, err := parseConfig([]byte("environment: dev\n"))
	if err != nil {
		t.Fatalf("Can't parse: %s", err.Error())
	}
	if c.Definitions != "definitions" || c.Store.Plugin != "sqlite" || c.Store.Access["path"] == "" {
		t.Errorf("Unexpected defaults: %+v, store: %+v", c, c.Store)
	}

	c, err = parseConfig([]byte("definitions: /etc/river\nlog:\n  level: warn\nstore:\n  plugin: redis\n  timeout: 5s\n  access:\n    addr: localhost:6379\n"))
	if err != nil {
		t.Fatalf("Can't parse: %s", err.Error())
	}
	if c.Definitions != "/etc/river" || c.Log.Level != zerolog.WarnLevel {
		t.Errorf("Unexpected config: %+v", c)
	}
	if c.Store.Plugin != "redis" || c.Store.Timeout != 5*time.Second || c.Store.Access["addr"] != "localhost:6379" {
		t.Errorf("Unexpected store: %+v", c.Store)
	}

	levels := []struct {
		config string
		level  zerolog.Level
	}{
		{"environment: dev\n", zerolog.InfoLevel},
		{"log:\n  file: river.log\n", zerolog.InfoLevel},
		{"log:\n", zerolog.InfoLevel},
		{"log:\n  level: debug\n", zerolog.DebugLevel},
		{"log:\n  level: error\n", zerolog.ErrorLevel},
	}

	for _, l := range levels {
		c, err := parseConfig([]byte(l.config))
		if err != nil {
			t.Fatalf("Can't parse %q: %s", l.config, err.Error())
		}
		if c.Log.Level != l.level {
			t.Errorf("%q: level is %s, expected: %s", l.config, c.Log.Level, l.level)
		}
	}

	tables := []string{
		"environment: prod\n",
		"store:\n  timeout: 5s\n",
		"log: [",
	}

	for _, table := range tables {
		if _, err := parseConfig([]byte(table)); err == nil {
			t.Errorf("Config must be rejected: %q", table)
		}
	}
}

func TestSetupRivers(t *testing.T) {
	log = zerolog.Nop()

	dir := t.TempDir()
	config = &Config{Definitions: dir}

	if _, err := setupRivers(memory.New()); err == nil {
		t.Errorf("Missing directory must fail")
	}

	rivers := filepath.Join(dir, "rivers")
	if err := os.Mkdir(rivers, 0755); err != nil {
		t.Fatalf("Can't create directory: %s", err.Error())
	}

	files := map[string]string{
		"solr.json":  `{"source": {"uri": "bolt://localhost:7687"}, "index": {"name": "people", "plugin": "solr"}}`,
		"graph.yaml": "source:\n  uri: bolt://localhost:7687\n  plugin: arangodb\nindex:\n  name: people\n",
		"broken.yml": "index: [",
		"notes.txt":  "not a river",
	}

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(rivers, name), []byte(content), 0644); err != nil {
			t.Fatalf("Can't write '%s': %s", name, err.Error())
		}
	}

	_, err := setupRivers(memory.New())
	if err == nil || !strings.Contains(err.Error(), "No rivers") {
		t.Errorf("Only broken rivers must give no instances, got: %v", err)
	}
}

func TestLoadRiver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.json")

	err := os.WriteFile(path, []byte(`{"name": "people", "neo4j": {"uri": "bolt://localhost:7687"}, "index": {"name": "people", "type": "person"}}`), 0644)
	if err != nil {
		t.Fatalf("Can't write river: %s", err.Error())
	}

	conf, err := loadRiver(path)
	if err != nil {
		t.Fatalf("Can't load river: %s", err.Error())
	}
	if conf.Name != "people" || conf.Source.URI != "bolt://localhost:7687" || conf.Index.Type != "person" {
		t.Errorf("Unexpected river: %+v", conf)
	}

	if _, err := loadRiver(path + ".missing"); err == nil {
		t.Errorf("Missing file must fail")
	}
}

type idleSource struct{}

func (s *idleSource) Conf() *pdk.River { return nil }
func (s *idleSource) Setup(*pdk.River, pdk.Ledger) error { return nil }
func (s *idleSource) Stop() error { return nil }

func (s *idleSource) Poll(ctx context.Context, since pdk.Checkpoint) ([]pdk.ChangeRecord, pdk.Checkpoint, error) {
	return nil, since, nil
}

type idleSink struct{}

func (s *idleSink) Conf() *pdk.River { return nil }
func (s *idleSink) Setup(*pdk.River) error { return nil }
func (s *idleSink) Apply(context.Context, []pdk.Action) (int, error) { return 0, nil }
func (s *idleSink) Refresh(context.Context) error { return nil }
func (s *idleSink) Count(context.Context, string, string) (int64, error) { return 0, nil }
func (s *idleSink) Stop() error { return nil }

/*
 * Source and index which are down at startup and come up later
 */
type flakySource struct {
	idleSource
	down *bool
}

func (s *flakySource) Setup(*pdk.River, pdk.Ledger) error {
	return fmt.Errorf("Can't connect to Neo4j: connection refused: %w", pdk.ErrSourceUnavailable)
}

func (s *flakySource) Poll(ctx context.Context, since pdk.Checkpoint) ([]pdk.ChangeRecord, pdk.Checkpoint, error) {
	if *s.down {
		return nil, since, fmt.Errorf("Can't scan the graph: connection refused: %w", pdk.ErrSourceUnavailable)
	}

	return nil, since, nil
}

type flakySink struct {
	idleSink
	err error
}

func (s *flakySink) Setup(*pdk.River) error { return s.err }

func TestSetupRiverUnavailable(t *testing.T) {
	log = zerolog.Nop()

	down := true
	sinkErr := pdk.SinkStatusError(503, "cluster starting")

	sourcePlugins["flaky"] = func() pdk.SourcePlugin { return &flakySource{down: &down} }
	sinkPlugins["flaky"] = func() pdk.SinkPlugin { return &flakySink{err: sinkErr} }
	t.Cleanup(func() {
		delete(sourcePlugins, "flaky")
		delete(sinkPlugins, "flaky")
	})

	conf := &pdk.River{
		Name:      "people",
		Source:    pdk.SourceSettings{Plugin: "flaky", URI: "bolt://127.0.0.1:1"},
		Index:     pdk.IndexSettings{Plugin: "flaky", Name: "people"},
		Interval:  time.Second,
		BatchSize: 10,
		Backoff:   pdk.BackoffSettings{Initial: time.Millisecond, Max: time.Second, LogAfter: 1},
	}

	inst, err := setupRiver(conf, memory.New())
	if err != nil {
		t.Fatalf("Unreachable servers must not drop the river: %s", err.Error())
	}

	err = inst.river.SyncOnce(context.Background())
	if !errors.Is(err, pdk.ErrSourceUnavailable) {
		t.Errorf("Expected unavailable source, got: %v", err)
	}
	if s := inst.river.Status(); s.State() != river.BackingOff {
		t.Errorf("State is %s, expected: %s", s.State(), river.BackingOff)
	}

	down = false

	if err := inst.river.SyncOnce(context.Background()); err != nil {
		t.Errorf("River must recover once the source is up: %s", err.Error())
	}
	if s := inst.river.Status(); s.State() != river.Running || s.Failures != 0 {
		t.Errorf("Unexpected status after recovery: %+v", s)
	}

	// Refused credentials are still fatal
	sinkErr = pdk.SinkStatusError(401, "unauthorized")

	if _, err := setupRiver(conf, memory.New()); err == nil {
		t.Errorf("Refused credentials must drop the river")
	}
}

func TestStatusTable(t *testing.T) {
	conf := &pdk.River{
		Name:      "people",
		Interval:  time.Second,
		BatchSize: 10,
		Backoff:   pdk.BackoffSettings{Initial: time.Millisecond, Max: time.Second, LogAfter: 1},
	}

	r, err := river.New(conf, &idleSource{}, &idleSink{}, memory.New(), river.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Can't create river: %s", err.Error())
	}

	if err := r.SyncOnce(context.Background()); err != nil {
		t.Fatalf("Can't sync: %s", err.Error())
	}

	table := statusTable([]*instance{{conf: conf, source: &idleSource{}, sink: &idleSink{}, river: r}})

	for _, expected := range []string{"RIVER", "people", "running", "idle"} {
		if !strings.Contains(table, expected) {
			t.Errorf("Table doesn't contain %q:\n%s", expected, table)
		}
	}
}
