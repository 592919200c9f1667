package neo4jsrc

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Export symbols
 */
var (
	Name    = "neo4j"
	Version = "1.0.0"
)

/*
 * Graph store watcher, finds node changes by scanning
 * the graph and comparing it to the committed ledger
 */
type Plugin struct {

	// Inherit default configuration fields
	river *pdk.River

	// Custom fields
	driver neo4j.DriverWithContext
	ledger pdk.Ledger
}
