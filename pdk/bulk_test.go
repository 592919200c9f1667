package pdk

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestBulkBody(t *testing.T) {
	actions := []Action{
		{Kind: ActionIndex, ID: "1", Document: map[string]interface{}{"name": "chris"}},
		{Kind: ActionDelete, ID: "2"},
	}

	tables := []struct {
		docType string
		lines   []string
	}{
		{"", []string{
			`{"index":{"_id":"1","_index":"people"}}`,
			`{"name":"chris"}`,
			`{"delete":{"_id":"2","_index":"people"}}`,
		}},
		{"person", []string{
			`{"index":{"_id":"1","_index":"people","_type":"person"}}`,
			`{"name":"chris"}`,
			`{"delete":{"_id":"2","_index":"people","_type":"person"}}`,
		}},
	}

	for _, table := range tables {
		body, err := BulkBody("people", table.docType, actions)
		if err != nil {
			t.Errorf("Can't build body: %s", err.Error())
			continue
		}

		expected := strings.Join(table.lines, "\n") + "\n"
		if body.String() != expected {
			t.Errorf("Invalid body:\n%s\nexpected:\n%s", body.String(), expected)
		}
	}

	bad := []Action{{Kind: ActionIndex, ID: "3", Document: map[string]interface{}{"f": func() {}}}}
	if _, err := BulkBody("people", "", bad); err == nil {
		t.Errorf("Unencodable document must fail")
	}
}

func TestParseBulk(t *testing.T) {
	actions := []Action{
		{Kind: ActionIndex, ID: "1"},
		{Kind: ActionDelete, ID: "2"},
		{Kind: ActionIndex, ID: "3"},
	}

	tables := []struct {
		name     string
		response string
		skip     bool
		acked    int
		rejected int
		reason   string
	}{
		{"all acked", `{"items":[{"index":{"status":201}},{"delete":{"status":200}},{"index":{"status":200}}]}`, false, 3, 0, ""},
		{"missing delete", `{"items":[{"index":{"status":201}},{"delete":{"status":404}},{"index":{"status":200}}]}`, false, 3, 0, ""},
		{"conflict", `{"items":[{"index":{"status":409,"error":{"type":"version_conflict_engine_exception","reason":"conflict"}}}]}`, true, 0, 0, "version_conflict_engine_exception: conflict"},
		{"mapping retry", `{"items":[{"index":{"status":201}},{"delete":{"status":200}},{"index":{"status":400,"error":{"type":"mapper_parsing_exception"}}}]}`, false, 2, 0, "mapper_parsing_exception"},
		{"mapping skip", `{"items":[{"index":{"status":400}},{"delete":{"status":200}},{"index":{"status":201}}]}`, true, 3, 1, ""},
		{"short response", `{"items":[{"index":{"status":201}}]}`, false, 1, 0, "no response item"},
		{"empty item", `{"items":[{}]}`, false, 0, 0, "empty response item"},
	}

	for _, table := range tables {
		result, err := ParseBulk([]byte(table.response), actions, table.skip)
		if err != nil {
			t.Errorf("%s: can't parse: %s", table.name, err.Error())
			continue
		}

		if result.Acked != table.acked || len(result.Rejected) != table.rejected {
			t.Errorf("%s: unexpected result: %+v", table.name, result)
		}
		if table.reason == "" && result.Reason != "" {
			t.Errorf("%s: unexpected reason: %s", table.name, result.Reason)
		} else if !strings.Contains(result.Reason, table.reason) {
			t.Errorf("%s: reason %q doesn't mention %q", table.name, result.Reason, table.reason)
		}
	}

	if _, err := ParseBulk([]byte(`{"items":`), actions, false); err == nil {
		t.Errorf("Broken response must fail")
	}
}

func TestSinkStatusError(t *testing.T) {
	tables := []struct {
		status int
		err    error
	}{
		{http.StatusUnauthorized, ErrSinkRejected},
		{http.StatusForbidden, ErrSinkRejected},
		{http.StatusServiceUnavailable, ErrSinkUnavailable},
		{http.StatusTooManyRequests, ErrSinkUnavailable},
		{http.StatusBadRequest, ErrSinkUnavailable},
	}

	for _, table := range tables {
		if err := SinkStatusError(table.status, ""); !errors.Is(err, table.err) {
			t.Errorf("Status %d classified as %v", table.status, err)
		}
	}

	if Retryable(SinkStatusError(http.StatusForbidden, "")) {
		t.Errorf("Refused credentials must not be retried")
	}
	if !Retryable(&PartialWriteError{Acked: 1, Total: 2}) {
		t.Errorf("Partial write must be retried")
	}
}

func TestUnavailable(t *testing.T) {
	tables := []struct {
		err         error
		unavailable bool
	}{
		{fmt.Errorf("Can't connect to Neo4j: refused: %w", ErrSourceUnavailable), true},
		{SinkStatusError(http.StatusServiceUnavailable, ""), true},
		{SinkStatusError(http.StatusUnauthorized, ""), false},
		{fmt.Errorf("'index.urls' is not defined"), false},
		{nil, false},
	}

	for _, table := range tables {
		if Unavailable(table.err) != table.unavailable {
			t.Errorf("Unavailable(%v) must be %t", table.err, table.unavailable)
		}
	}
}
