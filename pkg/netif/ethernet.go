package netif

import (
	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

// EthernetBroadcast is the all-ones link address.
const EthernetBroadcast = tcpip.LinkAddress("\xff\xff\xff\xff\xff\xff")

const (
	TypeIPv4 = header.IPv4ProtocolNumber
	TypeARP  = header.ARPProtocolNumber
)

type EthernetHeader struct {
	Dst  tcpip.LinkAddress
	Src  tcpip.LinkAddress
	Type tcpip.NetworkProtocolNumber
}

// EthernetFrame is a link-layer frame with an already serialized payload.
type EthernetFrame struct {
	Header  EthernetHeader
	Payload []byte
}

// Marshal encodes the frame header followed by the payload.
func (f *EthernetFrame) Marshal() []byte {
	b := make([]byte, header.EthernetMinimumSize, header.EthernetMinimumSize+len(f.Payload))
	header.Ethernet(b).Encode(&header.EthernetFields{
		SrcAddr: f.Header.Src,
		DstAddr: f.Header.Dst,
		Type:    f.Header.Type,
	})
	return append(b, f.Payload...)
}

// ParseFrame decodes an ethernet frame.
func ParseFrame(b []byte) (EthernetFrame, error) {
	if len(b) < header.EthernetMinimumSize {
		return EthernetFrame{}, errors.Errorf("ethernet frame too short: %d bytes", len(b))
	}
	eth := header.Ethernet(b)
	frame := EthernetFrame{
		Header: EthernetHeader{
			Dst:  eth.DestinationAddress(),
			Src:  eth.SourceAddress(),
			Type: eth.Type(),
		},
	}
	if len(b) > header.EthernetMinimumSize {
		frame.Payload = append([]byte(nil), b[header.EthernetMinimumSize:]...)
	}
	return frame, nil
}
