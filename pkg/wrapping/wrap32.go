// Package wrapping converts between 64-bit absolute stream indices and the
// 32-bit sequence numbers that go on the wire.
package wrapping

import (
	"strconv"

	"github.com/google/netstack/tcpip/seqnum"
)

const (
	highMask = 0xFFFFFFFF00000000
	bias     = 0x0000000100000000
)

// Wrap32 is a 32-bit sequence number: (absolute index + zero point) mod 2^32.
type Wrap32 seqnum.Value

// Wrap converts the absolute index n into a wire sequence number relative to
// zeroPoint.
func Wrap(n uint64, zeroPoint Wrap32) Wrap32 {
	return Wrap32(seqnum.Value(zeroPoint).Add(seqnum.Size(uint32(n))))
}

// Unwrap returns the absolute index that wraps to w and is closest to
// checkpoint. When two indices are exactly 2^31 away, the one outside the
// checkpoint's 2^32 block is returned.
func (w Wrap32) Unwrap(zeroPoint Wrap32, checkpoint uint64) uint64 {
	seqno := uint64(seqnum.Value(zeroPoint).Size(seqnum.Value(w)))
	candidate := (checkpoint & highMask) | seqno

	if candidate <= checkpoint {
		above := ((checkpoint & highMask) + bias) | seqno
		if checkpoint-candidate < above-checkpoint {
			return candidate
		}
		return above
	}

	if checkpoint&highMask == 0 {
		return candidate
	}

	below := ((checkpoint & highMask) - bias) | seqno
	if candidate-checkpoint < checkpoint-below {
		return candidate
	}
	return below
}

// Add returns the sequence number n positions after w.
func (w Wrap32) Add(n uint32) Wrap32 {
	return Wrap32(seqnum.Value(w).Add(seqnum.Size(n)))
}

func (w Wrap32) String() string {
	return strconv.FormatUint(uint64(w), 10)
}
