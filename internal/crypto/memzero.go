package crypto

import "runtime"

// Wipe zeroes each buffer. It cannot reach copies the runtime or a caller
// already made.
//
//go:noinline
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
	runtime.KeepAlive(bufs)
}
