// Package main runs the in-memory key directory used by sealchat during
// development and tests. Devices publish their identity keys and one-time
// keys to it, and other devices claim those keys to start pairwise sessions.
//
// HTTP API
//
//	POST /keys/upload
//	    Store a device (user_id, device_id, identity_key, signing_key) and
//	    add its one-time keys to the pool. Key ids already held are skipped.
//
//	POST /keys/claim/{user}/{device}
//	    Hand out the oldest one-time key of {device}, removing it from the
//	    pool. 404 when none are left.
//
//	GET /devices/{user}
//	    List the devices {user} has published.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Responses are JSON. Non-2xx statuses carry a short error message.
//   - Every request is logged at trace level with its status and duration.
//   - The default listen address is :8080.
//
// The directory only ever sees public keys.
package main
