package protocol

import (
	"encoding/binary"
	"net/netip"
)

func ConvertAddrToUint32(input netip.Addr) uint32 {
	bytes := input.As4()
	return binary.BigEndian.Uint32(bytes[:])
}

func Uint32ToAddr(input uint32) netip.Addr {
	var byteArray [4]byte
	binary.BigEndian.PutUint32(byteArray[:], input)
	return netip.AddrFrom4(byteArray)
}

// PrefixMask returns the network mask for a prefix length, e.g. 0xffffff00
// for 24.
func PrefixMask(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	return 0xFFFFFFFF << (32 - bits)
}

// FormatAddr prints an unset address as "*".
func FormatAddr(addr netip.Addr) string {
	if !addr.IsValid() {
		return "*"
	}
	return addr.String()
}
