package main

import (
	"github.com/cert-lv/neo4j-river/pdk"
	esv7 "github.com/cert-lv/neo4j-river/plugins/src/elasticsearch.v7"
	esv8 "github.com/cert-lv/neo4j-river/plugins/src/elasticsearch.v8"
	"github.com/cert-lv/neo4j-river/plugins/src/memory"
	"github.com/cert-lv/neo4j-river/plugins/src/mongodb"
	"github.com/cert-lv/neo4j-river/plugins/src/mysql"
	neo4jsrc "github.com/cert-lv/neo4j-river/plugins/src/neo4j"
	"github.com/cert-lv/neo4j-river/plugins/src/postgresql"
	"github.com/cert-lv/neo4j-river/plugins/src/redis"
	"github.com/cert-lv/neo4j-river/plugins/src/sqlite"
)

/*
 * Built-in plugins, plugin name -> constructor.
 * Every river gets its own instances
 */
var (
	sourcePlugins = map[string]func() pdk.SourcePlugin{
		neo4jsrc.Name: func() pdk.SourcePlugin { return &neo4jsrc.Plugin{} },
	}

	sinkPlugins = map[string]func() pdk.SinkPlugin{
		esv7.Name: func() pdk.SinkPlugin { return &esv7.Plugin{} },
		esv8.Name: func() pdk.SinkPlugin { return &esv8.Plugin{} },
	}

	storePlugins = map[string]func() pdk.StorePlugin{
		memory.Name:     func() pdk.StorePlugin { return memory.New() },
		sqlite.Name:     func() pdk.StorePlugin { return &sqlite.Plugin{} },
		postgresql.Name: func() pdk.StorePlugin { return &postgresql.Plugin{} },
		mysql.Name:      func() pdk.StorePlugin { return &mysql.Plugin{} },
		redis.Name:      func() pdk.StorePlugin { return &redis.Plugin{} },
		mongodb.Name:    func() pdk.StorePlugin { return &mongodb.Plugin{} },
	}

	// Plugin name -> version, for the startup log
	versions = map[string]string{
		neo4jsrc.Name:   neo4jsrc.Version,
		esv7.Name:       esv7.Version,
		esv8.Name:       esv8.Version,
		memory.Name:     memory.Version,
		sqlite.Name:     sqlite.Version,
		postgresql.Name: postgresql.Version,
		mysql.Name:      mysql.Version,
		redis.Name:      redis.Version,
		mongodb.Name:    mongodb.Version,
	}
)

/*
 * Log available plugins
 */
func listPlugins() {
	for name, version := range versions {
		log.Debug().
			Str("plugin", name).
			Msg("Plugin available, version " + version)
	}
}
