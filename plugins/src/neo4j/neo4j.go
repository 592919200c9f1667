package neo4jsrc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Check "pdk/plugin.go" for the built-in plugin functions description
 */

func (p *Plugin) Conf() *pdk.River {
	return p.river
}

func (p *Plugin) Setup(river *pdk.River, ledger pdk.Ledger) error {

	// Validate necessary parameters
	if river.Source.URI == "" {
		return fmt.Errorf("'source.uri' is not defined")
	} else if ledger == nil {
		return fmt.Errorf("Ledger is not defined")
	}

	auth := neo4j.NoAuth()
	if river.Source.User != "" {
		auth = neo4j.BasicAuth(river.Source.User, river.Source.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(river.Source.URI, auth, func(conf *neo4j.Config) {
		conf.SocketConnectTimeout = river.Source.Timeout
		conf.ConnectionAcquisitionTimeout = river.Source.Timeout
		conf.MaxTransactionRetryTime = river.Source.Timeout
	})
	if err != nil {
		return fmt.Errorf("Can't create Neo4j driver: %s", err.Error())
	}

	// Store settings
	p.river = river
	p.driver = driver
	p.ledger = ledger

	ctx, cancel := context.WithTimeout(context.Background(), river.Source.Timeout)
	defer cancel()

	// An unreachable server keeps the driver, polls retry the connection
	if err := driver.VerifyConnectivity(ctx); err != nil {
		err = classify("Can't connect to Neo4j", err)
		if !pdk.Unavailable(err) {
			driver.Close(context.Background())
			p.driver = nil
		}
		return err
	}

	return nil
}

func (p *Plugin) Poll(ctx context.Context, since pdk.Checkpoint) ([]pdk.ChangeRecord, pdk.Checkpoint, error) {
	ledger, err := p.ledger.Synced(ctx)
	if err != nil {
		return nil, since, fmt.Errorf("Can't read the ledger: %w", err)
	}

	observed := time.Now().UTC()

	nodes, err := p.scan(ctx)
	if err != nil {
		return nil, since, err
	}

	records := pdk.Diff(nodes, ledger, since, p.river.BatchSize, observed)

	zerolog.Ctx(ctx).Debug().
		Int("nodes", len(nodes)).
		Int("ledger", len(ledger)).
		Int("changes", len(records)).
		Msg("Graph scanned")

	if len(records) == 0 {
		return records, since, nil
	}

	return records, records[len(records)-1].Position, nil
}

/*
 * Read all watched nodes page by page, ordered by element ID
 */
func (p *Plugin) scan(ctx context.Context) ([]pdk.Node, error) {
	query := scanQuery(p.river.Source.Labels)
	nodes := []pdk.Node{}
	after := ""

	for {
		params := map[string]interface{}{
			"after": after,
			"page":  p.river.Source.PageSize,
		}
		if len(p.river.Source.Labels) != 0 {
			params["labels"] = p.river.Source.Labels
		}

		result, err := p.query(ctx, query, params, neo4j.ExecuteQueryWithReadersRouting())
		if err != nil {
			return nil, classify("Can't scan the graph", err)
		}

		for _, record := range result.Records {
			node, err := toNode(record)
			if err != nil {
				return nil, fmt.Errorf("Can't read node: %s: %w", err.Error(), pdk.ErrSourceUnavailable)
			}

			nodes = append(nodes, node)
			after = node.ID
		}

		if len(result.Records) < p.river.Source.PageSize {
			return nodes, nil
		}
	}
}

func (p *Plugin) query(ctx context.Context, query string, params map[string]interface{}, opts ...neo4j.ExecuteQueryConfigurationOption) (*neo4j.EagerResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.river.Source.Timeout)
	defer cancel()

	if p.river.Source.Database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(p.river.Source.Database))
	}

	return neo4j.ExecuteQuery(ctx, p.driver, query, params, neo4j.EagerResultTransformer, opts...)
}

/*
 * Create a node with the given labels and properties,
 * returns its element ID
 */
func (p *Plugin) CreateNode(ctx context.Context, labels []string, props map[string]interface{}) (string, error) {
	query := "CREATE (n" + labelsPattern(labels) + ") SET n = $props RETURN elementId(n) AS id"

	result, err := p.query(ctx, query, map[string]interface{}{"props": props})
	if err != nil {
		return "", classify("Can't create node", err)
	}

	if len(result.Records) != 1 {
		return "", fmt.Errorf("Can't create node: no ID returned")
	}

	id, ok := result.Records[0].Get("id")
	if !ok {
		return "", fmt.Errorf("Can't create node: no ID returned")
	}

	return fmt.Sprint(id), nil
}

/*
 * Merge the given properties into the node's ones,
 * nil values remove properties
 */
func (p *Plugin) UpdateNode(ctx context.Context, id string, props map[string]interface{}) error {
	query := "MATCH (n) WHERE elementId(n) = $id SET n += $props RETURN count(n) AS found"

	result, err := p.query(ctx, query, map[string]interface{}{"id": id, "props": props})
	if err != nil {
		return classify("Can't update node", err)
	}

	if found(result) == 0 {
		return fmt.Errorf("Can't update node '%s': not found", id)
	}

	return nil
}

/*
 * Delete the node together with its relationships
 */
func (p *Plugin) RemoveNode(ctx context.Context, id string) error {
	query := "MATCH (n) WHERE elementId(n) = $id DETACH DELETE n RETURN count(n) AS found"

	result, err := p.query(ctx, query, map[string]interface{}{"id": id})
	if err != nil {
		return classify("Can't remove node", err)
	}

	if found(result) == 0 {
		return fmt.Errorf("Can't remove node '%s': not found", id)
	}

	return nil
}

func (p *Plugin) Stop() error {
	if p.driver == nil {
		return nil
	}

	return p.driver.Close(context.Background())
}

func scanQuery(labels []string) string {
	query := "MATCH (n) WHERE elementId(n) > $after"
	if len(labels) != 0 {
		query += " AND any(label IN labels(n) WHERE label IN $labels)"
	}

	return query + " RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS props" +
		" ORDER BY id LIMIT $page"
}

// Labels can't be query parameters
func labelsPattern(labels []string) string {
	pattern := ""
	for _, label := range labels {
		pattern += ":`" + strings.ReplaceAll(label, "`", "``") + "`"
	}

	return pattern
}

func found(result *neo4j.EagerResult) int64 {
	if len(result.Records) == 0 {
		return 0
	}

	v, _ := result.Records[0].Get("found")
	count, _ := v.(int64)

	return count
}

func toNode(record *neo4j.Record) (pdk.Node, error) {
	id, ok := record.Get("id")
	if !ok {
		return pdk.Node{}, fmt.Errorf("no 'id' column")
	}

	node := pdk.Node{
		ID:         fmt.Sprint(id),
		Labels:     []string{},
		Properties: map[string]interface{}{},
	}

	if labels, ok := record.Get("labels"); ok {
		list, _ := labels.([]interface{})
		for _, l := range list {
			node.Labels = append(node.Labels, fmt.Sprint(l))
		}
	}

	if props, ok := record.Get("props"); ok {
		m, _ := props.(map[string]interface{})
		for k, v := range m {
			node.Properties[k] = convert(v)
		}
	}

	return node, nil
}

/*
 * Convert the driver's temporal types to the plain time,
 * everything else stays as received
 */
func convert(value interface{}) interface{} {
	switch v := value.(type) {
	case neo4j.Date:
		return v.Time()
	case neo4j.LocalDateTime:
		return v.Time()
	case []interface{}:
		list := make([]interface{}, len(v))
		for i, item := range v {
			list[i] = convert(item)
		}
		return list
	}

	return value
}

/*
 * Wrap the driver's error with the class the poll loop understands
 */
func classify(msg string, err error) error {
	var neoErr *neo4j.Neo4jError

	if errors.As(err, &neoErr) {
		switch {
		case strings.HasPrefix(neoErr.Code, "Neo.ClientError.Security."),
			strings.HasPrefix(neoErr.Code, "Neo.ClientError.Statement."):
			return fmt.Errorf("%s: %s: %w", msg, err.Error(), pdk.ErrSourceRejected)
		}
	}

	return fmt.Errorf("%s: %s: %w", msg, err.Error(), pdk.ErrSourceUnavailable)
}
