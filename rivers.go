package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cert-lv/neo4j-river/pdk"
	"github.com/cert-lv/neo4j-river/river"
)

var (
	// River definition files to load, others are ignored
	riverExtensions = []string{".json", ".yaml", ".yml"}
)

/*
 * Running river with its plugins
 */
type instance struct {
	conf   *pdk.River
	source pdk.SourcePlugin
	sink   pdk.SinkPlugin
	river  *river.River
}

/*
 * Setup rivers from the definitions directory.
 * Broken definitions are logged and skipped, so one bad file
 * doesn't stop the others
 */
func setupRivers(store pdk.StorePlugin) ([]*instance, error) {
	dir := filepath.Join(config.Definitions, "rivers")

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("Can't read directory '%s': %s", dir, err.Error())
	}

	instances := []*instance{}

	// River name -> definition file,
	// checkpoints are stored by name, so names must be unique
	names := make(map[string]string)

	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !pdk.StringSliceContains(riverExtensions, strings.ToLower(filepath.Ext(name))) {
			continue
		}

		conf, err := loadRiver(filepath.Join(dir, name))
		if err != nil {
			log.Error().Msgf("Can't load river file '%s': %s", name, err.Error())
			continue
		}

		if other, exists := names[conf.Name]; exists {
			log.Error().
				Str("river", conf.Name).
				Msgf("River from '%s' is already defined in '%s'", name, other)
			continue
		}

		inst, err := setupRiver(conf, store)
		if err != nil {
			log.Error().
				Str("river", conf.Name).
				Str("source", conf.Source.Plugin).
				Str("index", conf.Index.Plugin).
				Msg("Can't setup: " + err.Error())
			continue
		}

		names[conf.Name] = name
		instances = append(instances, inst)

		log.Info().
			Str("river", conf.Name).
			Str("source", conf.Source.Plugin).
			Str("index", conf.Index.Plugin).
			Msg("River initialized")
	}

	if len(instances) == 0 {
		return nil, fmt.Errorf("No rivers to run in '%s'", dir)
	}

	return instances, nil
}

/*
 * Create plugins of a single river and connect them
 */
func setupRiver(conf *pdk.River, store pdk.StorePlugin) (*instance, error) {
	newSource, ok := sourcePlugins[conf.Source.Plugin]
	if !ok {
		return nil, fmt.Errorf("No such source plugin: '%s'", conf.Source.Plugin)
	}

	newSink, ok := sinkPlugins[conf.Index.Plugin]
	if !ok {
		return nil, fmt.Errorf("No such index plugin: '%s'", conf.Index.Plugin)
	}

	sink := newSink()

	// Unreachable servers are retried by the river's backoff
	err := sink.Setup(conf)
	if pdk.Unavailable(err) {
		log.Warn().
			Str("river", conf.Name).
			Msg("Index is not reachable yet: " + err.Error())
	} else if err != nil {
		return nil, fmt.Errorf("Can't setup index writer: %s", err.Error())
	}

	source := newSource()

	err = source.Setup(conf, pdk.StoreLedger(store, conf.Name))
	if pdk.Unavailable(err) {
		log.Warn().
			Str("river", conf.Name).
			Msg("Graph store is not reachable yet: " + err.Error())
	} else if err != nil {
		sink.Stop()
		return nil, fmt.Errorf("Can't setup source watcher: %s", err.Error())
	}

	r, err := river.New(conf, source, sink, store, river.Options{Logger: log})
	if err != nil {
		source.Stop()
		sink.Stop()
		return nil, err
	}

	return &instance{
		conf:   conf,
		source: source,
		sink:   sink,
		river:  r,
	}, nil
}

/*
 * Load river definition file
 */
func loadRiver(filename string) (*pdk.River, error) {
	buffer, err := loadFileIntoString(filename)
	if err != nil {
		return nil, fmt.Errorf("Can't read: %s", err.Error())
	}

	conf, err := pdk.ParseRiver([]byte(buffer))
	if err != nil {
		return nil, err
	}

	return conf, nil
}

/*
 * Disconnect river's plugins
 */
func (i *instance) stop() {
	err := i.source.Stop()
	if err != nil {
		log.Error().
			Str("river", i.conf.Name).
			Msg("Can't stop the source watcher: " + err.Error())
	}

	err = i.sink.Stop()
	if err != nil {
		log.Error().
			Str("river", i.conf.Name).
			Msg("Can't stop the index writer: " + err.Error())
	}

	log.Debug().
		Str("river", i.conf.Name).
		Msg("River stopped")
}
