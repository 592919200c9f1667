package esv8

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Check "pdk/plugin.go" for the built-in plugin functions description
 */

func (p *Plugin) Conf() *pdk.River {
	return p.river
}

func (p *Plugin) Setup(river *pdk.River) error {

	// Validate necessary parameters
	if len(river.Index.URLs) == 0 {
		return fmt.Errorf("'index.urls' is not defined")
	}
	for _, u := range river.Index.URLs {
		if !strings.HasPrefix(u, "http") {
			return fmt.Errorf("'index.urls' must start with 'http[s]://'")
		}
	}

	cfg := elasticsearch.Config{
		Addresses: river.Index.URLs,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: river.Index.Timeout,
			DialContext: (&net.Dialer{
				Timeout:   river.Index.Timeout,
				KeepAlive: river.Index.Timeout,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}

	// Read the CA from file
	if river.Index.CACert != "" {
		cert, err := os.ReadFile(river.Index.CACert)
		if err != nil {
			return fmt.Errorf("Unable to read CA from %q: %s", river.Index.CACert, err)
		}
		cfg.CACert = cert
	}

	// Several ways to authorize the user
	if river.Index.APIKey != "" {
		cfg.APIKey = river.Index.APIKey
	} else if river.Index.Username != "" && river.Index.Password != "" {
		cfg.Username = river.Index.Username
		cfg.Password = river.Index.Password
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}

	// Store settings
	p.river = river
	p.client = client
	p.index = river.Index.Name

	ctx, cancel := context.WithTimeout(context.Background(), river.Index.Timeout)
	defer cancel()

	return p.Ping(ctx)
}

/*
 * Ping the Elasticsearch server to check the connection and credentials
 */
func (p *Plugin) Ping(ctx context.Context) error {
	res, err := p.client.Info(p.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("Can't reach Elasticsearch: %s: %w", err.Error(), pdk.ErrSinkUnavailable)
	}
	defer res.Body.Close()

	if res.IsError() {
		return pdk.SinkStatusError(res.StatusCode, res.String())
	}

	return nil
}

func (p *Plugin) Apply(ctx context.Context, actions []pdk.Action) (int, error) {
	if len(actions) == 0 {
		return 0, nil
	}

	// Elasticsearch 8 has no mapping types
	body, err := pdk.BulkBody(p.index, "", actions)
	if err != nil {
		return 0, err
	}

	opts := []func(*esapi.BulkRequest){
		p.client.Bulk.WithContext(ctx),
		p.client.Bulk.WithIndex(p.index),
	}
	if p.river.Index.Refresh {
		opts = append(opts, p.client.Bulk.WithRefresh("wait_for"))
	}

	res, err := p.client.Bulk(body, opts...)
	if err != nil {
		return 0, fmt.Errorf("Can't send bulk request: %s: %w", err.Error(), pdk.ErrSinkUnavailable)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, fmt.Errorf("Can't read bulk response: %s: %w", err.Error(), pdk.ErrSinkUnavailable)
	}

	if res.IsError() {
		return 0, pdk.SinkStatusError(res.StatusCode, string(b))
	}

	result, err := pdk.ParseBulk(b, actions, p.river.Index.Rejected == pdk.RejectedSkip)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", err.Error(), pdk.ErrSinkUnavailable)
	}

	if len(result.Rejected) != 0 {
		zerolog.Ctx(ctx).Warn().
			Strs("documents", result.Rejected).
			Msg("Documents rejected by the index and skipped")
	}

	if result.Acked < len(actions) {
		return result.Acked, &pdk.PartialWriteError{Acked: result.Acked, Total: len(actions), Reason: result.Reason}
	}

	return result.Acked, nil
}

func (p *Plugin) Refresh(ctx context.Context) error {
	res, err := p.client.Indices.Refresh(
		p.client.Indices.Refresh.WithIndex(p.index),
		p.client.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("Can't refresh '%s': %s: %w", p.index, err.Error(), pdk.ErrSinkUnavailable)
	}
	defer res.Body.Close()

	if res.IsError() {
		return pdk.SinkStatusError(res.StatusCode, res.String())
	}

	return nil
}

func (p *Plugin) Count(ctx context.Context, field, value string) (int64, error) {
	query, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"match_phrase": map[string]interface{}{field: value},
		},
	})
	if err != nil {
		return 0, err
	}

	res, err := p.client.Count(
		p.client.Count.WithIndex(p.index),
		p.client.Count.WithBody(strings.NewReader(string(query))),
		p.client.Count.WithContext(ctx),
	)
	if err != nil {
		return 0, fmt.Errorf("Can't count in '%s': %s: %w", p.index, err.Error(), pdk.ErrSinkUnavailable)
	}
	defer res.Body.Close()

	// Nothing was indexed yet
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, err
	}

	if res.IsError() {
		return 0, pdk.SinkStatusError(res.StatusCode, string(b))
	}

	parsed, err := gabs.ParseJSON(b)
	if err != nil {
		return 0, fmt.Errorf("Can't decode count response: %s", err.Error())
	}

	count, ok := parsed.S("count").Data().(float64)
	if !ok {
		return 0, fmt.Errorf("Can't decode 'count' response field")
	}

	return int64(count), nil
}

func (p *Plugin) Stop() error {
	// No error to check, so return nil
	return nil
}
