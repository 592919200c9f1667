package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

/*
 * Setup logger to the file or stdout.
 *
 * In a production environment log events to the file only,
 * in a development environment log to the stdout only.
 * Returned closer is nil when logging to the stdout
 */
func setupLogger() (io.Closer, error) {

	// For the production server
	if config.Environment == "prod" {
		// Lumberjack provides log files rotation
		fp := &lumberjack.Logger{
			Filename:   config.Log.File,
			MaxSize:    config.Log.MaxSize,    // Size in MB before file gets rotated
			MaxBackups: config.Log.MaxBackups, // Max number of files kept before being overwritten
			MaxAge:     config.Log.MaxAge,     // Max number of days to keep the files
			Compress:   true,                  // Whether to compress log files using gzip
		}

		log = zerolog.New(fp).With().Timestamp().Logger()
		zerolog.SetGlobalLevel(config.Log.Level)

		return fp, nil
	}

	// For the development
	stdout := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	log = zerolog.New(stdout).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(config.Log.Level)

	return nil, nil
}
