// Package host runs one TCP connection over IPv4 on a network interface.
package host

import (
	"net/netip"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"iptcp-stack/pkg/bytestream"
	"iptcp-stack/pkg/netif"
	"iptcp-stack/pkg/protocol"
	"iptcp-stack/pkg/reassembler"
	"iptcp-stack/pkg/tcp"
	"iptcp-stack/pkg/wrapping"
)

type Config struct {
	TCP        tcp.Config
	LocalPort  uint16
	RemotePort uint16
	RemoteIP   netip.Addr
	// Gateway is the next hop for every outbound datagram.
	Gateway netip.Addr
	ISN     wrapping.Wrap32
	Logger  logrus.FieldLogger
}

// Host is both ends of one TCP connection as seen from a single machine:
// an outbound stream fed to a sender and an inbound stream filled by a
// receiver. Segments travel as IPv4 datagrams through iface.
type Host struct {
	iface    *netif.NetworkInterface
	cfg      Config
	log      logrus.FieldLogger
	outbound *bytestream.ByteStream
	sender   *tcp.Sender
	receiver *tcp.Receiver

	needAck bool
	aborted bool
}

func New(iface *netif.NetworkInterface, cfg Config) (*Host, error) {
	if !cfg.RemoteIP.Is4() {
		return nil, errors.Errorf("remote address %s is not ipv4", cfg.RemoteIP)
	}
	if !cfg.Gateway.Is4() {
		return nil, errors.Errorf("gateway %s is not ipv4", cfg.Gateway)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	log := cfg.Logger.WithFields(logrus.Fields{
		"local":  netip.AddrPortFrom(iface.IPAddress(), cfg.LocalPort).String(),
		"remote": netip.AddrPortFrom(cfg.RemoteIP, cfg.RemotePort).String(),
	})

	outbound := bytestream.New(cfg.TCP.Capacity)
	sender := tcp.NewSender(outbound, cfg.ISN, cfg.TCP)
	sender.SetLogger(log)
	return &Host{
		iface:    iface,
		cfg:      cfg,
		log:      log,
		outbound: outbound,
		sender:   sender,
		receiver: tcp.NewReceiver(reassembler.New(bytestream.New(cfg.TCP.Capacity))),
	}, nil
}

// Outbound is the stream of bytes to send to the peer.
func (h *Host) Outbound() *bytestream.Writer { return h.outbound.Writer() }

// Inbound is the stream of bytes received from the peer.
func (h *Host) Inbound() *bytestream.Reader { return h.receiver.Reader() }

func (h *Host) Interface() *netif.NetworkInterface { return h.iface }

func (h *Host) SenderStatus() tcp.Status { return h.sender.Status() }

// Aborted reports whether the connection was reset, by either side.
func (h *Host) Aborted() bool { return h.aborted }

// Done reports whether both directions have finished cleanly.
func (h *Host) Done() bool {
	return !h.aborted && h.sender.Status() == tcp.Finished && h.receiver.Reader().IsClosed()
}

// String formats the connection as a row of the socket table:
// local address and port, remote address and port, and sender status.
func (h *Host) String() string {
	status := h.sender.Status().String()
	if h.aborted {
		status = "RESET"
	}
	return h.iface.IPAddress().String() + "        " + strconv.Itoa(int(h.cfg.LocalPort)) + "      " +
		h.cfg.RemoteIP.String() + "       " + strconv.Itoa(int(h.cfg.RemotePort)) + "     " + status
}

// Tick advances the host clock: it handles arrived datagrams, sends new
// data and acknowledgments, and retransmits when the timer expires. After
// too many consecutive retransmissions the connection is reset.
func (h *Host) Tick(ms uint64) {
	h.iface.Tick(ms)
	for _, packet := range h.iface.DrainReceived() {
		h.handle(packet)
	}
	if h.aborted {
		return
	}

	h.sender.Push(h.transmit)
	h.sender.Tick(ms, h.transmit)

	if h.sender.ConsecutiveRetransmissions() > h.cfg.TCP.MaxRetxAttempts {
		h.log.WithField("attempts", h.sender.ConsecutiveRetransmissions()).Warn("giving up on connection")
		h.Abort()
		return
	}
	if h.needAck {
		h.transmit(h.sender.MakeEmptyMessage())
	}
}

func (h *Host) handle(packet *protocol.IPPacket) {
	if packet.Header.Protocol != protocol.TCPProtocol {
		h.log.WithField("protocol", packet.Header.Protocol).Debug("ignoring non-tcp datagram")
		return
	}
	if packet.Header.Dst != h.iface.IPAddress() || packet.Header.Src != h.cfg.RemoteIP {
		h.log.WithField("src", packet.Header.Src.String()).Debug("ignoring datagram for another connection")
		return
	}
	seg, err := tcp.ParseSegment(packet.Payload, packet.Header.Src, packet.Header.Dst)
	if err != nil {
		h.log.WithError(err).Debug("dropping segment")
		return
	}
	if seg.SrcPort != h.cfg.RemotePort || seg.DstPort != h.cfg.LocalPort {
		h.log.WithFields(logrus.Fields{
			"src_port": seg.SrcPort,
			"dst_port": seg.DstPort,
		}).Debug("ignoring segment for another connection")
		return
	}
	if h.aborted {
		return
	}

	if seg.Sender.SequenceLength() > 0 {
		h.needAck = true
	}
	h.receiver.Receive(seg.Sender)
	h.sender.Receive(seg.Receiver)

	if seg.Sender.RST {
		h.log.Info("connection reset by peer")
		h.aborted = true
	}
}

// Abort resets the connection: both streams are errored and the peer is
// sent a reset.
func (h *Host) Abort() {
	if h.aborted {
		return
	}
	h.outbound.Writer().SetError()
	h.receiver.Reader().SetError()
	h.transmit(h.sender.MakeEmptyMessage())
	h.aborted = true
}

func (h *Host) transmit(msg tcp.SenderMessage) {
	seg := tcp.Segment{
		SrcPort:  h.cfg.LocalPort,
		DstPort:  h.cfg.RemotePort,
		Sender:   msg,
		Receiver: h.receiver.Send(),
	}
	local := h.iface.IPAddress()
	packet, err := protocol.NewIPPacket(local, h.cfg.RemoteIP, protocol.TCPProtocol, protocol.DefaultTTL, seg.Marshal(local, h.cfg.RemoteIP))
	if err != nil {
		h.log.WithError(err).Warn("dropping segment")
		return
	}
	h.iface.SendDatagram(packet, h.cfg.Gateway)
	h.needAck = false
}
