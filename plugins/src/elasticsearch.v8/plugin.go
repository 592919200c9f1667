package esv8

import (
	"github.com/elastic/go-elasticsearch/v8"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Export symbols
 */
var (
	Name    = "elasticsearch.v8"
	Version = "2.0.0"
)

/*
 * Index writer for Elasticsearch 8.x
 */
type Plugin struct {

	// Inherit default configuration fields
	river *pdk.River

	// Custom fields
	client *elasticsearch.Client
	index  string
}
