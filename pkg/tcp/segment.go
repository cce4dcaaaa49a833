package tcp

import (
	"net/netip"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"

	"iptcp-stack/pkg/iptcp"
	"iptcp-stack/pkg/wrapping"
)

// Segment is a full TCP segment: the sender's and the receiver's halves plus
// the ports they travel between.
type Segment struct {
	SrcPort  uint16
	DstPort  uint16
	Sender   SenderMessage
	Receiver ReceiverMessage
}

// Marshal encodes the segment as a TCP header followed by the payload. The
// checksum covers the IPv4 pseudo-header for srcIP and dstIP.
func (seg *Segment) Marshal(srcIP, dstIP netip.Addr) []byte {
	var flags uint8
	if seg.Sender.SYN {
		flags |= uint8(header.TCPFlagSyn)
	}
	if seg.Sender.FIN {
		flags |= uint8(header.TCPFlagFin)
	}
	if seg.Sender.RST || seg.Receiver.RST {
		flags |= uint8(header.TCPFlagRst)
	}
	var ackNum uint32
	if seg.Receiver.Ackno != nil {
		flags |= uint8(header.TCPFlagAck)
		ackNum = uint32(*seg.Receiver.Ackno)
	}

	tcpHdr := header.TCPFields{
		SrcPort:    seg.SrcPort,
		DstPort:    seg.DstPort,
		SeqNum:     uint32(seg.Sender.Seqno),
		AckNum:     ackNum,
		DataOffset: iptcp.TcpHeaderLen,
		Flags:      flags,
		WindowSize: seg.Receiver.WindowSize,
	}
	tcpHdr.Checksum = iptcp.ComputeTCPChecksum(&tcpHdr, srcIP, dstIP, seg.Sender.Payload)

	b := make([]byte, iptcp.TcpHeaderLen, iptcp.TcpHeaderLen+len(seg.Sender.Payload))
	header.TCP(b).Encode(&tcpHdr)
	return append(b, seg.Sender.Payload...)
}

// ParseSegment decodes a TCP segment sent from srcIP to dstIP and verifies
// its checksum.
func ParseSegment(b []byte, srcIP, dstIP netip.Addr) (Segment, error) {
	tcpHdr, err := iptcp.ParseTCPHeader(b)
	if err != nil {
		return Segment{}, err
	}
	payload := b[tcpHdr.DataOffset:]

	fromHeader := tcpHdr.Checksum
	tcpHdr.Checksum = 0
	if computed := iptcp.ComputeTCPChecksum(&tcpHdr, srcIP, dstIP, payload); computed != fromHeader {
		return Segment{}, errors.Errorf("bad tcp checksum: got 0x%04x, want 0x%04x", fromHeader, computed)
	}

	rst := tcpHdr.Flags&uint8(header.TCPFlagRst) != 0
	seg := Segment{
		SrcPort: tcpHdr.SrcPort,
		DstPort: tcpHdr.DstPort,
		Sender: SenderMessage{
			Seqno: wrapping.Wrap32(tcpHdr.SeqNum),
			SYN:   tcpHdr.Flags&uint8(header.TCPFlagSyn) != 0,
			FIN:   tcpHdr.Flags&uint8(header.TCPFlagFin) != 0,
			RST:   rst,
		},
		Receiver: ReceiverMessage{
			WindowSize: tcpHdr.WindowSize,
			RST:        rst,
		},
	}
	if len(payload) > 0 {
		seg.Sender.Payload = append([]byte(nil), payload...)
	}
	if tcpHdr.Flags&uint8(header.TCPFlagAck) != 0 {
		ackno := wrapping.Wrap32(tcpHdr.AckNum)
		seg.Receiver.Ackno = &ackno
	}
	return seg, nil
}
