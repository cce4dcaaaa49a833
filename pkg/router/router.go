// Package router forwards IPv4 datagrams between network interfaces by
// longest-prefix match over a static routing table.
package router

import (
	"net/netip"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"iptcp-stack/pkg/netif"
	"iptcp-stack/pkg/protocol"
)

// Route is one routing table entry. An invalid NextHop means the prefix is
// directly attached and datagrams go straight to their destination.
type Route struct {
	Prefix       netip.Prefix
	NextHop      netip.Addr
	InterfaceNum int
}

// Router holds attached interfaces and the static routing table.
type Router struct {
	interfaces []*netif.NetworkInterface
	routes     []Route
	log        logrus.FieldLogger
}

// New returns a router with no interfaces and an empty table.
func New() *Router {
	return &Router{log: logrus.StandardLogger()}
}

// SetLogger replaces the logger used for routing events.
func (r *Router) SetLogger(log logrus.FieldLogger) { r.log = log }

// AddInterface attaches iface and returns the index routes use to name it.
func (r *Router) AddInterface(iface *netif.NetworkInterface) int {
	r.interfaces = append(r.interfaces, iface)
	return len(r.interfaces) - 1
}

// Interface returns the interface with index n, or false if there is none.
func (r *Router) Interface(n int) (*netif.NetworkInterface, bool) {
	if n < 0 || n >= len(r.interfaces) {
		return nil, false
	}
	return r.interfaces[n], true
}

// Routes returns the routing table in insertion order.
func (r *Router) Routes() []Route {
	return r.routes
}

// AddRoute appends a route. Routes are neither deduplicated nor sorted.
func (r *Router) AddRoute(prefix netip.Prefix, nextHop netip.Addr, interfaceNum int) error {
	if !prefix.IsValid() || !prefix.Addr().Is4() {
		return errors.Errorf("route prefix %s is not an ipv4 prefix", prefix)
	}
	if nextHop.IsValid() && !nextHop.Is4() {
		return errors.Errorf("route next hop %s is not an ipv4 address", nextHop)
	}
	if interfaceNum < 0 || interfaceNum >= len(r.interfaces) {
		return errors.Errorf("route %s: no interface %d", prefix, interfaceNum)
	}

	r.log.WithFields(logrus.Fields{
		"prefix":    prefix.String(),
		"next_hop":  protocol.FormatAddr(nextHop),
		"interface": r.interfaces[interfaceNum].Name(),
	}).Debug("adding route")
	r.routes = append(r.routes, Route{Prefix: prefix, NextHop: nextHop, InterfaceNum: interfaceNum})
	return nil
}

// Tick advances the clock of every attached interface.
func (r *Router) Tick(msSinceLastTick uint64) {
	for _, iface := range r.interfaces {
		iface.Tick(msSinceLastTick)
	}
}

// Route forwards every datagram the interfaces have received.
func (r *Router) Route() {
	for _, iface := range r.interfaces {
		for _, packet := range iface.DrainReceived() {
			r.forward(packet)
		}
	}
}

func (r *Router) forward(packet *protocol.IPPacket) {
	log := r.log.WithField("dst", packet.Header.Dst.String())
	if packet.Header.TTL <= 1 {
		log.Debug("dropping datagram: ttl expired")
		return
	}
	packet.Header.TTL--
	if err := packet.ComputeChecksum(); err != nil {
		log.WithError(err).Warn("dropping datagram")
		return
	}

	if !r.Send(packet) {
		log.Debug("dropping datagram: no route")
	}
}

// Send transmits packet toward its destination using the routing table,
// leaving the header untouched. It reports false if no route matches.
func (r *Router) Send(packet *protocol.IPPacket) bool {
	route, ok := r.match(packet.Header.Dst)
	if !ok {
		return false
	}
	nextHop := route.NextHop
	if !nextHop.IsValid() {
		nextHop = packet.Header.Dst
	}
	r.interfaces[route.InterfaceNum].SendDatagram(packet, nextHop)
	return true
}

// match returns the longest-prefix route for dst. Among equal lengths the
// earliest added route wins.
func (r *Router) match(dst netip.Addr) (Route, bool) {
	if !dst.Is4() {
		return Route{}, false
	}
	addr := protocol.ConvertAddrToUint32(dst)
	best := -1
	var bestRoute Route
	for _, route := range r.routes {
		bits := route.Prefix.Bits()
		mask := protocol.PrefixMask(bits)
		if addr&mask != protocol.ConvertAddrToUint32(route.Prefix.Addr())&mask {
			continue
		}
		if bits > best {
			best = bits
			bestRoute = route
		}
	}
	return bestRoute, best >= 0
}
