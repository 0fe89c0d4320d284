// Package account provisions the local Olm account and manages its one-time
// keys.
package account
