// Package protocol defines the IPv4 datagram that the network interfaces
// and the router pass around, and its wire encoding.
package protocol

import (
	"net/netip"
	"strconv"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

const (
	DefaultTTL   = 16
	TestProtocol = 0
	TCPProtocol  = 6
)

// IPPacket is an IPv4 datagram: parsed header plus payload.
type IPPacket struct {
	Header  ipv4header.IPv4Header
	Payload []byte
}

// NewIPPacket builds a datagram from src to dst with a valid checksum.
func NewIPPacket(src, dst netip.Addr, protocolNum int, ttl int, data []byte) (*IPPacket, error) {
	packet := &IPPacket{
		Header: ipv4header.IPv4Header{
			Version:  4,
			Len:      ipv4header.HeaderLen, // no IP options
			TOS:      0,
			TotalLen: ipv4header.HeaderLen + len(data),
			ID:       0,
			Flags:    0,
			FragOff:  0,
			TTL:      ttl,
			Protocol: protocolNum,
			Checksum: 0,
			Src:      src,
			Dst:      dst,
			Options:  []byte{},
		},
		Payload: data,
	}
	if err := packet.ComputeChecksum(); err != nil {
		return nil, err
	}
	return packet, nil
}

// ComputeChecksum recomputes the header checksum, e.g. after a TTL change.
func (packet *IPPacket) ComputeChecksum() error {
	packet.Header.Checksum = 0
	headerBytes, err := packet.Header.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal ipv4 header")
	}
	packet.Header.Checksum = int(ComputeChecksum(headerBytes))
	return nil
}

// Marshal encodes the header and payload.
func (packet *IPPacket) Marshal() ([]byte, error) {
	headerBytes, err := packet.Header.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ipv4 header")
	}
	bytesToSend := make([]byte, 0, len(headerBytes)+len(packet.Payload))
	bytesToSend = append(bytesToSend, headerBytes...)
	bytesToSend = append(bytesToSend, packet.Payload...)
	return bytesToSend, nil
}

// ParseIPPacket decodes a datagram and verifies its header checksum.
func ParseIPPacket(b []byte) (*IPPacket, error) {
	hdr, err := ipv4header.ParseHeader(b)
	if err != nil {
		return nil, errors.Wrap(err, "parse ipv4 header")
	}
	if hdr.Version != 4 {
		return nil, errors.Errorf("not an ipv4 datagram: version %d", hdr.Version)
	}
	if hdr.Len < ipv4header.HeaderLen || hdr.TotalLen < hdr.Len || hdr.TotalLen > len(b) {
		return nil, errors.Errorf("bad ipv4 lengths: header %d, total %d, have %d", hdr.Len, hdr.TotalLen, len(b))
	}

	headerBytes := make([]byte, hdr.Len)
	copy(headerBytes, b[:hdr.Len])
	headerBytes[10], headerBytes[11] = 0, 0
	if computed := ComputeChecksum(headerBytes); computed != uint16(hdr.Checksum) {
		return nil, errors.Errorf("bad ipv4 checksum: got 0x%04x, want 0x%04x", hdr.Checksum, computed)
	}

	payload := make([]byte, hdr.TotalLen-hdr.Len)
	copy(payload, b[hdr.Len:hdr.TotalLen])
	return &IPPacket{Header: *hdr, Payload: payload}, nil
}

// ComputeChecksum returns the internet checksum of an IPv4 header whose
// checksum field is zero.
func ComputeChecksum(headerBytes []byte) uint16 {
	checksum := header.Checksum(headerBytes, 0)
	checksumInv := checksum ^ 0xffff
	return checksumInv
}

func (packet *IPPacket) String() string {
	return "Src: " + packet.Header.Src.String() +
		", Dst: " + packet.Header.Dst.String() +
		", TTL: " + strconv.Itoa(packet.Header.TTL) +
		", Data: " + string(packet.Payload)
}
