/*
 * Checkpoint store definition.
 * For the "store" section of the service configuration file
 */

package pdk

import (
	"time"
)

type Store struct {
	Plugin  string            `yaml:"plugin"`
	Timeout time.Duration     `yaml:"timeout"`
	Access  map[string]string `yaml:"access"`
}
