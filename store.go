package main

import (
	"fmt"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Create a connection to the checkpoint store
 * shared by all the rivers
 */
func setupStore(conf *pdk.Store) (pdk.StorePlugin, error) {
	create, ok := storePlugins[conf.Plugin]
	if !ok {
		return nil, fmt.Errorf("No such store plugin: '%s'", conf.Plugin)
	}

	store := create()

	err := store.Setup(conf)
	if err != nil {
		return nil, fmt.Errorf("Can't setup '%s' store: %s", conf.Plugin, err.Error())
	}

	log.Debug().
		Str("plugin", conf.Plugin).
		Msg("Checkpoint store successfully connected")

	return store, nil
}
