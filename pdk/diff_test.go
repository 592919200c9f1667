package pdk

import (
	"testing"
	"time"
)

func TestDiff(t *testing.T) {
	observed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	chris := Node{ID: "1", Labels: []string{"Person"}, Properties: map[string]interface{}{"name": "chris"}}
	ian := Node{ID: "2", Labels: []string{"Person"}, Properties: map[string]interface{}{"name": "ian"}}
	jon := Node{ID: "3", Labels: []string{"Person"}, Properties: map[string]interface{}{"name": "jon"}}

	ledger := map[string]string{
		"1": Fingerprint(chris.Labels, chris.Properties),
		"2": "outdated",
		"9": Fingerprint(nil, nil),
		"8": Fingerprint(nil, nil),
	}

	since := Checkpoint{Sequence: 10}
	records := Diff([]Node{jon, chris, ian, jon}, ledger, since, 0, observed)

	expected := []struct {
		kind ChangeKind
		id   string
	}{
		{Created, "3"},
		{Updated, "2"},
		{Deleted, "8"},
		{Deleted, "9"},
	}

	if len(records) != len(expected) {
		t.Fatalf("Got %d records, expected: %d", len(records), len(expected))
	}

	for i, e := range expected {
		r := records[i]

		if r.Kind != e.kind || r.NodeID != e.id {
			t.Errorf("Record #%d is %s '%s', expected: %s '%s'", i, r.Kind, r.NodeID, e.kind, e.id)
		}
		if r.Position.Sequence != since.Sequence+uint64(i)+1 || !r.Position.Time.Equal(observed) {
			t.Errorf("Record #%d has invalid position: %+v", i, r.Position)
		}
		if r.Kind != Deleted && r.Fingerprint == "" {
			t.Errorf("Record #%d has no fingerprint", i)
		}
	}
}

func TestDiffLimit(t *testing.T) {
	nodes := []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	records := Diff(nodes, map[string]string{"z": "x"}, Checkpoint{}, 2, time.Now())
	if len(records) != 2 || records[0].NodeID != "a" || records[1].NodeID != "b" {
		t.Errorf("Unexpected limited records: %+v", records)
	}
	if records[1].Position.Sequence != 2 {
		t.Errorf("Invalid last position: %d", records[1].Position.Sequence)
	}

	if records := Diff(nil, nil, Checkpoint{}, 5, time.Now()); len(records) != 0 {
		t.Errorf("Empty graph and ledger must give no records: %+v", records)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]string{"Person", "Musician"}, map[string]interface{}{"name": "chris", "age": int64(46)})
	b := Fingerprint([]string{"Musician", "Person"}, map[string]interface{}{"age": int64(46), "name": "chris"})

	if a != b {
		t.Errorf("Order must not change the fingerprint: %s != %s", a, b)
	}

	tables := []struct {
		name   string
		labels []string
		props  map[string]interface{}
	}{
		{"other label", []string{"Person"}, map[string]interface{}{"name": "chris", "age": int64(46)}},
		{"joined labels", []string{"Musician:Person"}, map[string]interface{}{"name": "chris", "age": int64(46)}},
		{"split label", []string{"Musician", "Per", "son"}, map[string]interface{}{"name": "chris", "age": int64(46)}},
		{"other value", []string{"Person", "Musician"}, map[string]interface{}{"name": "chris", "age": int64(47)}},
		{"other type", []string{"Person", "Musician"}, map[string]interface{}{"name": "chris", "age": "46"}},
		{"extra key", []string{"Person", "Musician"}, map[string]interface{}{"name": "chris", "age": int64(46), "band": "coldplay"}},
	}

	for _, table := range tables {
		if f := Fingerprint(table.labels, table.props); f == a {
			t.Errorf("%s: fingerprint must differ", table.name)
		}
	}
}

func TestApplyToLedger(t *testing.T) {
	ledger := map[string]string{"1": "a", "2": "b"}

	ApplyToLedger(ledger, []ChangeRecord{
		{Kind: Updated, NodeID: "1", Fingerprint: "c"},
		{Kind: Deleted, NodeID: "2"},
		{Kind: Created, NodeID: "3", Fingerprint: "d"},
	})

	if len(ledger) != 2 || ledger["1"] != "c" || ledger["3"] != "d" {
		t.Errorf("Unexpected ledger: %v", ledger)
	}
}
