// Package pairwise manages the Olm session this device holds with each
// remote device.
//
// Every operation on a device runs under that device's lock, and every
// session advance is persisted before the call returns. Consuming a
// one-time key additionally takes the account lock, always after the
// device lock.
package pairwise
