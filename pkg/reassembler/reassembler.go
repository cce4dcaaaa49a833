// Package reassembler puts out-of-order substrings of a byte stream back in
// order and writes them to a bytestream.ByteStream as soon as they become
// contiguous.
package reassembler

import (
	"github.com/google/btree"

	"iptcp-stack/pkg/bytestream"
)

const btreeDegree = 8

// interval is a run of buffered bytes covering [start, end).
type interval struct {
	start uint64
	end   uint64
	data  []byte
}

func lessInterval(a, b interval) bool { return a.start < b.start }

// Reassembler buffers substrings that arrive ahead of the next expected byte.
// Buffered intervals are disjoint, never touch, and all lie above the first
// unassembled index.
type Reassembler struct {
	output *bytestream.ByteStream

	unassembledIndex uint64
	finishIndex      uint64
	finishKnown      bool

	pending      *btree.BTreeG[interval]
	pendingBytes uint64
}

// New returns a Reassembler that writes into output.
func New(output *bytestream.ByteStream) *Reassembler {
	return &Reassembler{
		output:  output,
		pending: btree.NewG[interval](btreeDegree, lessInterval),
	}
}

// Insert adds the substring data, whose first byte is at absolute index
// firstIndex. isLast marks data as the final substring of the stream.
//
// Bytes already written, and bytes beyond the output's available capacity,
// are dropped.
func (r *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool) {
	end := firstIndex + uint64(len(data))
	if isLast {
		r.finishIndex = end
		r.finishKnown = true
	}

	lo := max(firstIndex, r.unassembledIndex)
	hi := min(end, r.unassembledIndex+r.output.Writer().AvailableCapacity())
	if lo < hi {
		r.merge(lo, hi, data[lo-firstIndex:hi-firstIndex])
	}

	// Intervals never touch, so at most one can start at the unassembled
	// index.
	if first, ok := r.pending.Min(); ok && first.start == r.unassembledIndex {
		r.pending.DeleteMin()
		r.pendingBytes -= uint64(len(first.data))
		r.output.Writer().Push(first.data)
		r.unassembledIndex = first.end
	}

	if r.finishKnown && r.unassembledIndex >= r.finishIndex {
		r.output.Writer().Close()
	}
}

// merge coalesces [lo, hi) with every buffered interval it overlaps or abuts.
func (r *Reassembler) merge(lo, hi uint64, chunk []byte) {
	var touched []interval
	r.pending.DescendLessOrEqual(interval{start: lo}, func(it interval) bool {
		if it.end >= lo {
			touched = append(touched, it)
		}
		return false
	})
	r.pending.AscendRange(interval{start: lo + 1}, interval{start: hi + 1}, func(it interval) bool {
		touched = append(touched, it)
		return true
	})

	start, end := lo, hi
	for _, it := range touched {
		start = min(start, it.start)
		end = max(end, it.end)
	}

	merged := make([]byte, end-start)
	for _, it := range touched {
		copy(merged[it.start-start:], it.data)
		r.pending.Delete(it)
		r.pendingBytes -= uint64(len(it.data))
	}
	copy(merged[lo-start:], chunk)

	r.pending.ReplaceOrInsert(interval{start: start, end: end, data: merged})
	r.pendingBytes += end - start
}

// BytesPending is the number of bytes buffered but not yet written.
func (r *Reassembler) BytesPending() uint64 { return r.pendingBytes }

// UnassembledIndex is the absolute index of the next byte the output expects.
func (r *Reassembler) UnassembledIndex() uint64 { return r.unassembledIndex }

// Reader returns the output stream's Reader.
func (r *Reassembler) Reader() *bytestream.Reader { return r.output.Reader() }

// Writer returns the output stream's Writer.
func (r *Reassembler) Writer() *bytestream.Writer { return r.output.Writer() }
