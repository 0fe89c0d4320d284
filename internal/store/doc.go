// Package store provides persistence for the session layer's sealed state.
//
// It contains three implementations of domain.SessionStore:
//   - MemoryStore, for tests and short-lived processes
//   - FileStore, one file per key under a home directory, written with
//     temp-file + fsync + rename and guarded by lockedfile locks so several
//     processes can share a home
//   - PostgresStore, one row per key, with session-level advisory locks so
//     several workers can share a database
//
// Every store persists opaque pickles only; nothing here can read session
// secrets. FileStore and PostgresStore also implement domain.Locker.
//
// The package also holds the passphrase keystore that keeps the pickle key
// at rest (SavePickleKey, LoadPickleKey).
package store
