package protocol

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIPPacketRoundTrip(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("192.168.7.9")
	packet, err := NewIPPacket(src, dst, TCPProtocol, DefaultTTL, []byte("payload"))
	if err != nil {
		t.Fatalf("NewIPPacket failed: %v", err)
	}

	b, err := packet.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := ParseIPPacket(b)
	if err != nil {
		t.Fatalf("ParseIPPacket failed: %v", err)
	}

	if got.Header.Src != src || got.Header.Dst != dst {
		t.Errorf("addresses = %s -> %s, want %s -> %s", got.Header.Src, got.Header.Dst, src, dst)
	}
	if got.Header.TTL != DefaultTTL {
		t.Errorf("TTL = %d, want %d", got.Header.TTL, DefaultTTL)
	}
	if got.Header.Protocol != TCPProtocol {
		t.Errorf("Protocol = %d, want %d", got.Header.Protocol, TCPProtocol)
	}
	if got.Header.Checksum != packet.Header.Checksum {
		t.Errorf("Checksum = 0x%04x, want 0x%04x", got.Header.Checksum, packet.Header.Checksum)
	}
	if diff := cmp.Diff([]byte("payload"), got.Payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestParseIPPacketBadChecksum(t *testing.T) {
	packet, err := NewIPPacket(netip.MustParseAddr("1.2.3.4"), netip.MustParseAddr("5.6.7.8"), TestProtocol, 3, []byte("x"))
	if err != nil {
		t.Fatalf("NewIPPacket failed: %v", err)
	}

	// Changing the TTL without recomputing the checksum breaks the header.
	packet.Header.TTL--
	b, err := packet.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if _, err := ParseIPPacket(b); err == nil {
		t.Error("ParseIPPacket accepted a stale checksum")
	}

	if err := packet.ComputeChecksum(); err != nil {
		t.Fatalf("ComputeChecksum failed: %v", err)
	}
	b, err = packet.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if _, err := ParseIPPacket(b); err != nil {
		t.Errorf("ParseIPPacket after ComputeChecksum: %v", err)
	}
}

func TestParseIPPacketTooShort(t *testing.T) {
	if _, err := ParseIPPacket([]byte{0x45, 0, 0}); err == nil {
		t.Error("ParseIPPacket accepted 3 bytes")
	}
}

func TestAddrConversions(t *testing.T) {
	addr := netip.MustParseAddr("10.1.2.3")
	if got, want := ConvertAddrToUint32(addr), uint32(0x0a010203); got != want {
		t.Errorf("ConvertAddrToUint32(%s) = 0x%08x, want 0x%08x", addr, got, want)
	}
	if got := Uint32ToAddr(0x0a010203); got != addr {
		t.Errorf("Uint32ToAddr = %s, want %s", got, addr)
	}
	for bits, want := range map[int]uint32{0: 0, 8: 0xff000000, 24: 0xffffff00, 32: 0xffffffff} {
		if got := PrefixMask(bits); got != want {
			t.Errorf("PrefixMask(%d) = 0x%08x, want 0x%08x", bits, got, want)
		}
	}
	if got := FormatAddr(netip.Addr{}); got != "*" {
		t.Errorf("FormatAddr(zero) = %q, want \"*\"", got)
	}
}
