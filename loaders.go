package main

import (
	"os"
	"strings"
)

/*
 * Return content of the requested file by its path
 */
func loadFileIntoString(path string) (string, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return string(file), nil
}

/*
 * Load service's version
 */
func loadVersion() error {
	path := "VERSION"
	var err error

	// Try to get from the environment variable first
	if os.Getenv(path) != "" {
		version = os.Getenv(path)
		return nil
	}

	version, err = loadFileIntoString(path)
	if err != nil {
		return err
	}

	version = strings.TrimSpace(version)
	return nil
}
