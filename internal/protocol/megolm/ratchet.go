package megolm

import (
	"crypto/hmac"
	"crypto/sha256"
)

const (
	ratchetParts    = 4
	ratchetPartSize = 32
	ratchetLength   = ratchetParts * ratchetPartSize
)

// seeds used to rehash each part.
var hashKeySeeds = [ratchetParts][]byte{{0x00}, {0x01}, {0x02}, {0x03}}

// Ratchet is the Megolm ratchet value at Counter.
type Ratchet struct {
	Data    [ratchetParts][ratchetPartSize]byte `json:"data"`
	Counter uint32                              `json:"counter"`
}

func (r *Ratchet) rehashPart(from, to int) {
	m := hmac.New(sha256.New, r.Data[from][:])
	m.Write(hashKeySeeds[to])
	copy(r.Data[to][:], m.Sum(nil))
}

// Advance moves the ratchet forward by one.
func (r *Ratchet) Advance() {
	mask := uint32(0x00ffffff)
	h := 0
	r.Counter++

	// Find the highest part that needs a rekey.
	for h < ratchetParts {
		if r.Counter&mask == 0 {
			break
		}
		h++
		mask >>= 8
	}

	// Update R(h)...R(3) based on R(h).
	for i := ratchetParts - 1; i >= h; i-- {
		r.rehashPart(h, i)
	}
}

// AdvanceTo moves the ratchet forward to target. target must not be behind
// the current counter unless the counter has wrapped.
func (r *Ratchet) AdvanceTo(target uint32) {
	for j := 0; j < ratchetParts; j++ {
		shift := uint((ratchetParts - j - 1) * 8)
		mask := ^uint32(0) << shift

		// The & 0xff handles wraparound of each part's byte.
		steps := ((target >> shift) - (r.Counter >> shift)) & 0xff
		if steps == 0 {
			// Only possible for R0 when target has wrapped past the counter.
			if target < r.Counter {
				steps = 0x100
			} else {
				continue
			}
		}

		// All but the last step only bump R(j).
		for ; steps > 1; steps-- {
			r.rehashPart(j, j)
		}
		// The last step also reseeds R(j+1)...R(3).
		for k := ratchetParts - 1; k >= j; k-- {
			r.rehashPart(j, k)
		}
		r.Counter = target & mask
	}
}

func (r *Ratchet) bytes() []byte {
	out := make([]byte, 0, ratchetLength)
	for i := range r.Data {
		out = append(out, r.Data[i][:]...)
	}
	return out
}

func (r *Ratchet) wipe() {
	for i := range r.Data {
		clear(r.Data[i][:])
	}
}
