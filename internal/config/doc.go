// Package config loads and validates chat server configuration.
//
// Configuration is read from a YAML file with ${VAR} environment
// variable expansion, then defaulted and validated.
package config
