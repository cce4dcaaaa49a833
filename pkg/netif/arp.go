package netif

import (
	"net/netip"

	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

// ARPMessage is an IPv4-over-Ethernet ARP request or reply.
type ARPMessage struct {
	Opcode                header.ARPOp
	SenderEthernetAddress tcpip.LinkAddress
	SenderIPAddress       netip.Addr
	TargetEthernetAddress tcpip.LinkAddress
	TargetIPAddress       netip.Addr
}

func putIPv4(dst []byte, addr netip.Addr) {
	if addr.Is4() {
		ip := addr.As4()
		copy(dst, ip[:])
	}
}

// Marshal encodes the message in RFC 826 layout.
func (m *ARPMessage) Marshal() []byte {
	a := header.ARP(make([]byte, header.ARPSize))
	a.SetIPv4OverEthernet()
	a.SetOp(m.Opcode)
	copy(a.HardwareAddressSender(), m.SenderEthernetAddress)
	putIPv4(a.ProtocolAddressSender(), m.SenderIPAddress)
	copy(a.HardwareAddressTarget(), m.TargetEthernetAddress)
	putIPv4(a.ProtocolAddressTarget(), m.TargetIPAddress)
	return a
}

// ParseARP decodes an ARP message, accepting only IPv4-over-Ethernet
// requests and replies.
func ParseARP(b []byte) (ARPMessage, error) {
	a := header.ARP(b)
	if !a.IsValid() {
		return ARPMessage{}, errors.New("not an ipv4-over-ethernet arp message")
	}
	op := a.Op()
	if op != header.ARPRequest && op != header.ARPReply {
		return ARPMessage{}, errors.Errorf("unknown arp opcode %d", op)
	}
	return ARPMessage{
		Opcode:                op,
		SenderEthernetAddress: tcpip.LinkAddress(a.HardwareAddressSender()),
		SenderIPAddress:       netip.AddrFrom4([4]byte(a.ProtocolAddressSender())),
		TargetEthernetAddress: tcpip.LinkAddress(a.HardwareAddressTarget()),
		TargetIPAddress:       netip.AddrFrom4([4]byte(a.ProtocolAddressTarget())),
	}, nil
}
