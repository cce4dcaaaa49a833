package tcp

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"iptcp-stack/pkg/wrapping"
)

func TestSegmentRoundTrip(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.2")
	dst := netip.MustParseAddr("10.1.0.2")
	ackno := wrapping.Wrap32(0xdeadbeef)

	for _, seg := range []Segment{
		{
			SrcPort: 40000, DstPort: 9999,
			Sender: SenderMessage{Seqno: 17, SYN: true},
		},
		{
			SrcPort: 9999, DstPort: 40000,
			Sender:   SenderMessage{Seqno: 4, Payload: []byte("hello, world"), FIN: true},
			Receiver: ReceiverMessage{Ackno: &ackno, WindowSize: 1234},
		},
		{
			SrcPort: 1, DstPort: 2,
			Sender:   SenderMessage{Seqno: 99, RST: true},
			Receiver: ReceiverMessage{RST: true},
		},
	} {
		b := seg.Marshal(src, dst)
		got, err := ParseSegment(b, src, dst)
		if err != nil {
			t.Fatalf("ParseSegment(%+v) failed: %v", seg, err)
		}
		if diff := cmp.Diff(seg, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestParseSegmentRejectsCorruption(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.2")
	dst := netip.MustParseAddr("10.1.0.2")
	seg := Segment{SrcPort: 5, DstPort: 6, Sender: SenderMessage{Seqno: 1, Payload: []byte("data")}}
	b := seg.Marshal(src, dst)

	b[len(b)-1] ^= 0xff
	if _, err := ParseSegment(b, src, dst); err == nil {
		t.Error("ParseSegment accepted a corrupted payload")
	}

	// The checksum covers the pseudo-header, so a different source fails too.
	b = seg.Marshal(src, dst)
	if _, err := ParseSegment(b, netip.MustParseAddr("10.0.0.3"), dst); err == nil {
		t.Error("ParseSegment accepted a segment from the wrong address")
	}

	if _, err := ParseSegment(b[:10], src, dst); err == nil {
		t.Error("ParseSegment accepted a truncated header")
	}
}
