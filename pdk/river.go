/*
 * River definition.
 * One JSON or YAML document per river in "../definitions/rivers" by default.
 *
 * Check "../definitions/rivers/river.json.example" for the fields description
 */

package pdk

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/google/uuid"
	yaml "gopkg.in/yaml.v3"
)

const (
	RejectedRetry = "retry"
	RejectedSkip  = "skip"
)

type River struct {
	Name      string
	Source    SourceSettings
	Index     IndexSettings
	Interval  time.Duration
	BatchSize int
	Backoff   BackoffSettings
}

type SourceSettings struct {
	Plugin   string
	URI      string
	User     string
	Password string
	Database string
	Labels   []string
	PageSize int
	Timeout  time.Duration
}

type IndexSettings struct {
	Plugin   string
	Name     string
	Type     string
	URLs     []string
	Username string
	Password string
	APIKey   string
	CACert   string
	Timeout  time.Duration

	// Wait for the bulk changes to become searchable
	Refresh bool

	// What to do with the documents the index refuses to store
	Rejected string

	// Document field to store node labels in, empty to skip
	LabelsField string
}

type BackoffSettings struct {
	Initial  time.Duration
	Max      time.Duration
	LogAfter int
}

/*
 * Parse a river document.
 *
 * JSON is a subset of YAML, so both formats go through the YAML decoder.
 * Keys may be nested objects ({"index": {"name": ...}}) or
 * flat dotted keys ({"index.name": ...}), both forms may be mixed
 */
func ParseRiver(data []byte) (*River, error) {
	var raw map[string]interface{}

	err := yaml.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("Invalid river document: %s", err.Error())
	}

	doc := &document{gabs.Wrap(raw)}

	r := &River{
		Name: doc.str("name", ""),
		Source: SourceSettings{
			Plugin:   doc.str("source.plugin", "neo4j"),
			URI:      doc.str("source.uri", doc.str("neo4j.uri", "")),
			User:     doc.str("source.user", doc.str("neo4j.user", "")),
			Password: doc.str("source.password", doc.str("neo4j.password", "")),
			Database: doc.str("source.database", ""),
			Labels:   doc.list("source.labels"),
		},
		Index: IndexSettings{
			Plugin:      doc.str("index.plugin", "elasticsearch.v8"),
			Name:        doc.str("index.name", ""),
			Type:        doc.str("index.type", ""),
			URLs:        doc.list("index.urls"),
			Username:    doc.str("index.username", ""),
			Password:    doc.str("index.password", ""),
			APIKey:      doc.str("index.apiKey", ""),
			CACert:      doc.str("index.ca", ""),
			Rejected:    doc.str("index.rejected", RejectedRetry),
			LabelsField: doc.str("index.labelsField", ""),
		},
	}

	if r.Name == "" {
		r.Name = "neo4j-river-" + uuid.NewString()
	}

	if len(r.Index.URLs) == 0 {
		if u := doc.str("index.url", ""); u != "" {
			r.Index.URLs = []string{u}
		}
	}

	if r.Source.PageSize, err = doc.integer("source.pageSize", 500); err != nil {
		return nil, err
	}
	if r.Source.Timeout, err = doc.duration("source.timeout", 10*time.Second); err != nil {
		return nil, err
	}
	if r.Index.Timeout, err = doc.duration("index.timeout", 10*time.Second); err != nil {
		return nil, err
	}
	if r.Index.Refresh, err = doc.boolean("index.refresh", false); err != nil {
		return nil, err
	}

	// The legacy river layout keeps polling settings under "neo4j."
	interval, err := doc.duration("neo4j.interval", time.Second)
	if err != nil {
		return nil, err
	}
	if r.Interval, err = doc.duration("interval", interval); err != nil {
		return nil, err
	}
	if r.BatchSize, err = doc.integer("batchSize", 100); err != nil {
		return nil, err
	}
	if r.Backoff.Initial, err = doc.duration("backoff.initial", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if r.Backoff.Max, err = doc.duration("backoff.max", 30*time.Second); err != nil {
		return nil, err
	}
	if r.Backoff.LogAfter, err = doc.integer("backoff.logAfter", 5); err != nil {
		return nil, err
	}

	return r, r.Validate()
}

/*
 * Check mandatory fields and value ranges
 */
func (r *River) Validate() error {
	if r.Source.URI == "" {
		return fmt.Errorf("'source.uri' is not defined")
	} else if r.Index.Name == "" {
		return fmt.Errorf("'index.name' is not defined")
	} else if r.Index.Name != strings.ToLower(r.Index.Name) {
		return fmt.Errorf("'index.name' must be lowercase")
	} else if r.Interval <= 0 {
		return fmt.Errorf("'interval' must be positive")
	} else if r.BatchSize <= 0 {
		return fmt.Errorf("'batchSize' must be positive")
	} else if r.Source.PageSize <= 0 {
		return fmt.Errorf("'source.pageSize' must be positive")
	} else if r.Backoff.Initial <= 0 || r.Backoff.Max < r.Backoff.Initial {
		return fmt.Errorf("'backoff.initial' must be positive and not above 'backoff.max'")
	} else if r.Backoff.LogAfter <= 0 {
		return fmt.Errorf("'backoff.logAfter' must be positive")
	} else if r.Index.Rejected != RejectedRetry && r.Index.Rejected != RejectedSkip {
		return fmt.Errorf("'index.rejected' must be '%s' or '%s'", RejectedRetry, RejectedSkip)
	}

	return nil
}

/*
 * Dotted path access to a decoded document
 */
type document struct {
	c *gabs.Container
}

func (d *document) lookup(path string) (interface{}, bool) {
	if d.c.ExistsP(path) {
		return d.c.Path(path).Data(), true
	}

	if d.c.Exists(path) {
		return d.c.Search(path).Data(), true
	}

	return nil, false
}

func (d *document) str(path, def string) string {
	v, ok := d.lookup(path)
	if !ok || v == nil {
		return def
	}

	return fmt.Sprint(v)
}

func (d *document) list(path string) []string {
	v, ok := d.lookup(path)
	if !ok || v == nil {
		return nil
	}

	switch items := v.(type) {
	case []interface{}:
		result := make([]string, 0, len(items))
		for _, item := range items {
			result = append(result, fmt.Sprint(item))
		}
		return result

	case string:
		// Comma separated list
		result := []string{}
		for _, item := range strings.Split(items, ",") {
			if item = strings.TrimSpace(item); item != "" {
				result = append(result, item)
			}
		}
		return result
	}

	return []string{fmt.Sprint(v)}
}

func (d *document) integer(path string, def int) (int, error) {
	v, ok := d.lookup(path)
	if !ok || v == nil {
		return def, nil
	}

	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("'%s' is not an integer: %s", path, n)
		}
		return i, nil
	}

	return 0, fmt.Errorf("'%s' is not an integer: %v", path, v)
}

func (d *document) boolean(path string, def bool) (bool, error) {
	v, ok := d.lookup(path)
	if !ok || v == nil {
		return def, nil
	}

	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("'%s' is not a boolean: %s", path, b)
		}
		return parsed, nil
	}

	return false, fmt.Errorf("'%s' is not a boolean: %v", path, v)
}

/*
 * Durations are Go duration strings ("1s", "250ms")
 * or integer milliseconds like in the legacy river settings
 */
func (d *document) duration(path string, def time.Duration) (time.Duration, error) {
	v, ok := d.lookup(path)
	if !ok || v == nil {
		return def, nil
	}

	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Millisecond, nil
	case float64:
		return time.Duration(n) * time.Millisecond, nil
	case string:
		parsed, err := time.ParseDuration(n)
		if err == nil {
			return parsed, nil
		}

		ms, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("'%s' is not a duration: %s", path, n)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	return 0, fmt.Errorf("'%s' is not a duration: %v", path, v)
}
