package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// Holder all service's configuration
	config *Config

	// Instance of the global logger
	log zerolog.Logger

	// Current service's version
	version string
)

func main() {
	/*
	 * Parse configuration file
	 */
	err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Can't load configuration: %s\n", err.Error())
		os.Exit(1)
	}

	/*
	 * Setup a global logger to the file or stdout
	 */
	fp, err := setupLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Can't setup a logfile: %s\n", err.Error())
		os.Exit(1)
	}

	err = run()

	if fp != nil {
		fp.Close()
	}

	if err != nil {
		os.Exit(1)
	}
}

/*
 * Run all the rivers until a stop signal or until all of them terminate
 */
func run() error {
	// Load service's version
	err := loadVersion()
	if err != nil {
		log.Warn().Msg("Can't load version: " + err.Error())
		version = "dev"
	}

	listPlugins()

	/*
	 * Setup a checkpoint store
	 */
	store, err := setupStore(config.Store)
	if err != nil {
		log.Error().Msg("Can't setup a checkpoint store: " + err.Error())
		return err
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.Error().Msg("Can't stop the checkpoint store: " + err.Error())
		}
	}()

	/*
	 * Setup rivers from the definitions
	 */
	instances, err := setupRivers(store)
	if err != nil {
		log.Error().Msg("Can't setup rivers: " + err.Error())
		return err
	}

	/*
	 * Stop rivers plugins on service exit
	 */
	defer func() {
		for _, i := range instances {
			i.stop()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Msgf("Neo4j river v%s. Starting %d river(s)", version, len(instances))

	// A terminated river doesn't stop the others
	g := &errgroup.Group{}

	for _, i := range instances {
		r := i.river

		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	err = g.Wait()

	log.Info().Msg("Rivers status:\n" + statusTable(instances))

	return err
}
