// Package app wires the session layer for the CLI.
//
// It loads Config from a TOML file, opens the passphrase-protected pickle
// key, picks the store backend and builds the services on top of it. The
// log backend splits output into one slog subsystem per service.
package app
