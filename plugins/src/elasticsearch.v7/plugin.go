package esv7

import (
	"github.com/elastic/go-elasticsearch/v7"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Export symbols
 */
var (
	Name    = "elasticsearch.v7"
	Version = "2.0.0"
)

/*
 * Index writer for Elasticsearch 7.x
 */
type Plugin struct {

	// Inherit default configuration fields
	river *pdk.River

	// Custom fields
	client *elasticsearch.Client
	index  string

	// Mapping type, empty for the default "_doc"
	docType string
}
