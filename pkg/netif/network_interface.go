// Package netif connects the IP layer to an Ethernet link, resolving
// next-hop addresses with ARP.
package netif

import (
	"net/netip"
	"sort"

	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
	"github.com/sirupsen/logrus"

	"iptcp-stack/pkg/protocol"
)

const (
	// ARPEntryTTL is how long (ms) a learned mapping stays in the cache.
	ARPEntryTTL = 30000
	// ARPRequestInterval is the minimum time (ms) between ARP requests.
	ARPRequestInterval = 5000
)

// OutputPort carries frames from an interface onto its link.
type OutputPort interface {
	Transmit(sender *NetworkInterface, frame EthernetFrame)
}

// Config holds the ARP timers and logger for an interface.
type Config struct {
	ARPEntryTTL        uint64
	ARPRequestInterval uint64
	Logger             logrus.FieldLogger
}

// DefaultConfig returns a Config with the standard ARP timers.
func DefaultConfig() Config {
	return Config{
		ARPEntryTTL:        ARPEntryTTL,
		ARPRequestInterval: ARPRequestInterval,
		Logger:             logrus.StandardLogger(),
	}
}

type arpEntry struct {
	ethernetAddress tcpip.LinkAddress
	age             uint64
}

type pendingDatagram struct {
	packet  *protocol.IPPacket
	nextHop netip.Addr
}

// Neighbor is a snapshot of one ARP cache entry.
type Neighbor struct {
	IPAddress       netip.Addr
	EthernetAddress tcpip.LinkAddress
	Age             uint64
}

// NetworkInterface sends and receives IPv4 datagrams over one Ethernet port.
type NetworkInterface struct {
	name            string
	port            OutputPort
	ethernetAddress tcpip.LinkAddress
	ipAddress       netip.Addr
	cfg             Config
	log             logrus.FieldLogger

	arpCache map[netip.Addr]*arpEntry
	pending  []pendingDatagram

	// Time since the last ARP request. Only meaningful once requested.
	sinceLastRequest uint64
	requested        bool

	received []*protocol.IPPacket
}

// New returns an interface with the given addresses that transmits on port.
func New(name string, port OutputPort, ethernetAddress tcpip.LinkAddress, ipAddress netip.Addr, cfg Config) *NetworkInterface {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	ni := &NetworkInterface{
		name:            name,
		port:            port,
		ethernetAddress: ethernetAddress,
		ipAddress:       ipAddress,
		cfg:             cfg,
		log:             cfg.Logger.WithField("interface", name),
		arpCache:        make(map[netip.Addr]*arpEntry),
	}
	ni.log.WithFields(logrus.Fields{
		"ethernet": ethernetAddress.String(),
		"ip":       ipAddress.String(),
	}).Debug("network interface up")
	return ni
}

func (ni *NetworkInterface) Name() string                       { return ni.name }
func (ni *NetworkInterface) EthernetAddress() tcpip.LinkAddress { return ni.ethernetAddress }
func (ni *NetworkInterface) IPAddress() netip.Addr              { return ni.ipAddress }

// SendDatagram transmits packet to nextHop on this link. If the next hop's
// Ethernet address is unknown the datagram is queued until an ARP reply
// arrives, and a request is broadcast unless one went out recently.
func (ni *NetworkInterface) SendDatagram(packet *protocol.IPPacket, nextHop netip.Addr) {
	if entry, ok := ni.arpCache[nextHop]; ok {
		ni.transmitDatagram(packet, entry.ethernetAddress)
		return
	}

	ni.pending = append(ni.pending, pendingDatagram{packet: packet, nextHop: nextHop})
	if ni.requested && ni.sinceLastRequest < ni.cfg.ARPRequestInterval {
		return
	}
	ni.requested = true
	ni.sinceLastRequest = 0

	request := ARPMessage{
		Opcode:                header.ARPRequest,
		SenderEthernetAddress: ni.ethernetAddress,
		SenderIPAddress:       ni.ipAddress,
		TargetEthernetAddress: tcpip.LinkAddress(make([]byte, header.EthernetAddressSize)),
		TargetIPAddress:       nextHop,
	}
	ni.log.WithField("target", nextHop.String()).Debug("sending arp request")
	ni.transmit(EthernetBroadcast, TypeARP, request.Marshal())
}

// RecvFrame handles a frame arriving from the link. IPv4 datagrams addressed
// to this interface are queued for DrainReceived; ARP messages update the
// cache and may produce a reply.
func (ni *NetworkInterface) RecvFrame(frame EthernetFrame) {
	if frame.Header.Dst != ni.ethernetAddress && frame.Header.Dst != EthernetBroadcast {
		return
	}

	switch frame.Header.Type {
	case TypeIPv4:
		packet, err := protocol.ParseIPPacket(frame.Payload)
		if err != nil {
			ni.log.WithError(err).Debug("dropping ipv4 frame")
			return
		}
		ni.received = append(ni.received, packet)

	case TypeARP:
		msg, err := ParseARP(frame.Payload)
		if err != nil {
			ni.log.WithError(err).Debug("dropping arp frame")
			return
		}
		ni.arpCache[msg.SenderIPAddress] = &arpEntry{ethernetAddress: msg.SenderEthernetAddress}

		if msg.Opcode == header.ARPRequest && msg.TargetIPAddress == ni.ipAddress {
			reply := ARPMessage{
				Opcode:                header.ARPReply,
				SenderEthernetAddress: ni.ethernetAddress,
				SenderIPAddress:       ni.ipAddress,
				TargetEthernetAddress: msg.SenderEthernetAddress,
				TargetIPAddress:       msg.SenderIPAddress,
			}
			ni.transmit(msg.SenderEthernetAddress, TypeARP, reply.Marshal())
		}
		ni.flushPending()
	}
}

// flushPending sends queued datagrams in order, stopping at the first one
// whose next hop is still unresolved.
func (ni *NetworkInterface) flushPending() {
	for len(ni.pending) > 0 {
		p := ni.pending[0]
		entry, ok := ni.arpCache[p.nextHop]
		if !ok {
			break
		}
		ni.transmitDatagram(p.packet, entry.ethernetAddress)
		ni.pending[0] = pendingDatagram{}
		ni.pending = ni.pending[1:]
	}
	if len(ni.pending) == 0 {
		ni.pending = nil
	}
}

// Tick advances the interface clock, expiring stale ARP entries.
func (ni *NetworkInterface) Tick(msSinceLastTick uint64) {
	for addr, entry := range ni.arpCache {
		entry.age += msSinceLastTick
		if entry.age >= ni.cfg.ARPEntryTTL {
			delete(ni.arpCache, addr)
		}
	}
	if ni.requested {
		ni.sinceLastRequest += msSinceLastTick
	}
}

// DrainReceived returns and clears the datagrams received so far.
func (ni *NetworkInterface) DrainReceived() []*protocol.IPPacket {
	received := ni.received
	ni.received = nil
	return received
}

// Neighbors lists the ARP cache ordered by IP address.
func (ni *NetworkInterface) Neighbors() []Neighbor {
	neighbors := make([]Neighbor, 0, len(ni.arpCache))
	for addr, entry := range ni.arpCache {
		neighbors = append(neighbors, Neighbor{IPAddress: addr, EthernetAddress: entry.ethernetAddress, Age: entry.age})
	}
	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].IPAddress.Less(neighbors[j].IPAddress)
	})
	return neighbors
}

func (ni *NetworkInterface) transmitDatagram(packet *protocol.IPPacket, dst tcpip.LinkAddress) {
	b, err := packet.Marshal()
	if err != nil {
		ni.log.WithError(err).Warn("dropping unencodable datagram")
		return
	}
	ni.transmit(dst, TypeIPv4, b)
}

func (ni *NetworkInterface) transmit(dst tcpip.LinkAddress, typ tcpip.NetworkProtocolNumber, payload []byte) {
	ni.port.Transmit(ni, EthernetFrame{
		Header: EthernetHeader{
			Dst:  dst,
			Src:  ni.ethernetAddress,
			Type: typ,
		},
		Payload: payload,
	})
}
