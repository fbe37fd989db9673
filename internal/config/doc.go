// Package config loads the Sentellent agent configuration from a YAML file,
// fills defaults relative to the file's directory and applies SENTELLENT_*
// environment overrides for secrets and connection strings.
package config
