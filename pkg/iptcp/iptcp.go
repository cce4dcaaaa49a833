// Package iptcp holds helpers for TCP headers carried in IPv4 datagrams.
package iptcp

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

const (
	TcpHeaderLen       = header.TCPMinimumSize
	TcpPseudoHeaderLen = 12
	IpProtoTcp         = 6
)

// ParseTCPHeader decodes the fixed part of the TCP header at the start of b.
func ParseTCPHeader(b []byte) (header.TCPFields, error) {
	if len(b) < TcpHeaderLen {
		return header.TCPFields{}, errors.Errorf("tcp header too short: %d bytes", len(b))
	}
	td := header.TCP(b)
	hdr := header.TCPFields{
		SrcPort:    td.SourcePort(),
		DstPort:    td.DestinationPort(),
		SeqNum:     td.SequenceNumber(),
		AckNum:     td.AckNumber(),
		DataOffset: td.DataOffset(),
		Flags:      td.Flags(),
		WindowSize: td.WindowSize(),
		Checksum:   td.Checksum(),
	}
	if int(hdr.DataOffset) < TcpHeaderLen || int(hdr.DataOffset) > len(b) {
		return header.TCPFields{}, errors.Errorf("bad tcp data offset %d for %d bytes", hdr.DataOffset, len(b))
	}
	return hdr, nil
}

// ComputeTCPChecksum computes the checksum of a TCP header and payload
// together with the IPv4 pseudo-header. tcpHdr.Checksum must be zero.
func ComputeTCPChecksum(tcpHdr *header.TCPFields, sourceIP netip.Addr, destIP netip.Addr, payload []byte) uint16 {
	pseudoHeaderBytes := make([]byte, TcpPseudoHeaderLen)
	src, dst := sourceIP.As4(), destIP.As4()
	copy(pseudoHeaderBytes[0:4], src[:])
	copy(pseudoHeaderBytes[4:8], dst[:])
	pseudoHeaderBytes[8] = 0
	pseudoHeaderBytes[9] = IpProtoTcp
	binary.BigEndian.PutUint16(pseudoHeaderBytes[10:12], uint16(TcpHeaderLen+len(payload)))

	headerBytes := header.TCP(make([]byte, TcpHeaderLen))
	headerBytes.Encode(tcpHdr)

	bytesToCheck := make([]byte, 0, len(pseudoHeaderBytes)+len(headerBytes)+len(payload))
	bytesToCheck = append(bytesToCheck, pseudoHeaderBytes...)
	bytesToCheck = append(bytesToCheck, headerBytes...)
	bytesToCheck = append(bytesToCheck, payload...)

	return header.Checksum(bytesToCheck, 0) ^ 0xffff
}
