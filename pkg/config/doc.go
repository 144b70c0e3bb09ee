// Package config loads client options from YAML and applies defaults.
//
// Options covers the tunables shared by all transports (credentials,
// call and connect timeouts, heartbeat and BLE polling budgets) plus
// per-device entries. Every field has a working default, so an empty
// file, or no file at all, yields a usable configuration.
package config
