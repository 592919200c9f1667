package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	yaml "gopkg.in/yaml.v3"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Structure to store all the service settings.
 * Check "neo4j-river.yaml.example" file for a detailed all fields description
 */
type Config struct {
	Environment string `yaml:"environment"`
	Definitions string `yaml:"definitions"`

	Log *LogConfig `yaml:"log"`

	// Where rivers keep their checkpoints
	Store *pdk.Store `yaml:"store"`
}

type LogConfig struct {
	File       string        `yaml:"file"`
	MaxSize    int           `yaml:"maxSize"`
	MaxBackups int           `yaml:"maxBackups"`
	MaxAge     int           `yaml:"maxAge"`
	Level      zerolog.Level `yaml:"level"`
}

/*
 * Load configuration from a YAML file.
 *
 * Service searches for the "./neo4j-river.yaml" file by default.
 * however, "CONFIG" environment variable can be set to use a different file
 */
func loadConfig() error {
	path := "neo4j-river.yaml"

	if os.Getenv("CONFIG") != "" {
		path = os.Getenv("CONFIG")
	}

	buffer, err := loadFileIntoString(path)
	if err != nil {
		return fmt.Errorf("Failed to open configuration file '%s': %s", path, err.Error())
	}

	config, err = parseConfig([]byte(buffer))
	if err != nil {
		return fmt.Errorf("Invalid configuration YAML file '%s': %s", path, err.Error())
	}

	return nil
}

func parseConfig(data []byte) (*Config, error) {
	// Level 0 is debug, so the default is set before decoding
	c := &Config{Log: &LogConfig{Level: zerolog.InfoLevel}}

	err := yaml.Unmarshal(data, c)
	if err != nil {
		return nil, err
	}

	// Set default values if not specified
	if c.Definitions == "" {
		c.Definitions = "definitions"
	}

	if c.Log == nil {
		c.Log = &LogConfig{Level: zerolog.InfoLevel}
	}

	if c.Environment == "prod" && c.Log.File == "" {
		return nil, fmt.Errorf("'log.file' is required in the 'prod' environment")
	}

	if c.Store == nil {
		c.Store = &pdk.Store{
			Plugin: "sqlite",
			Access: map[string]string{"path": "neo4j-river.db"},
		}
	}

	if c.Store.Plugin == "" {
		return nil, fmt.Errorf("'store.plugin' is not defined")
	}

	return c, nil
}
