// Package config provides configuration structures and utilities for
// update-sample-data. It defines the options that select the model
// assertion, channels, preparation command and archive output, and merges
// them from defaults, an optional YAML file, environment variables and
// command line flags.
package config
