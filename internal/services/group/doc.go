// Package group manages Megolm sessions per conversation: the single
// outbound session this device encrypts with and the inbound sessions it
// decrypts with, including its own.
package group
