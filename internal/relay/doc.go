// Package relay talks to the key directory that devices publish their
// one-time keys to and claim each other's keys from.
//
// HTTP is the client. Directory and Handler are the in-memory directory
// served by cmd/relay, also used by tests.
//
// All requests are JSON over HTTP and accept a context for cancellation and
// deadlines. Non-2xx statuses are returned as errors carrying the method,
// path and status text.
package relay
