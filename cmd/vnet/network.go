package main

import (
	"fmt"
	"math/rand"
	"net/netip"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"iptcp-stack/pkg/host"
	"iptcp-stack/pkg/lnxconfig"
	"iptcp-stack/pkg/netif"
	"iptcp-stack/pkg/protocol"
	"iptcp-stack/pkg/router"
	"iptcp-stack/pkg/sim"
	"iptcp-stack/pkg/wrapping"
)

// stepMS is the clock granularity of the simulation.
const stepMS = 10

// network is every node of a config wired onto its links.
type network struct {
	links   []*sim.Hub
	routers map[string]*router.Router
	// Hosts that are transfer endpoints run a TCP connection; the others
	// only answer ARP and print test datagrams.
	hosts     map[string]*host.Host
	idleHosts map[string]*netif.NetworkInterface
	// Node names in config order, so runs with the same seeds repeat.
	order []string
	now   uint64
}

func buildNetwork(cfg *lnxconfig.NetConfig) (*network, error) {
	n := &network{
		routers:   make(map[string]*router.Router),
		hosts:     make(map[string]*host.Host),
		idleHosts: make(map[string]*netif.NetworkInterface),
	}
	logger := logrus.StandardLogger()

	hubs := make(map[string]*sim.Hub)
	for _, link := range cfg.Links {
		hub := sim.NewHub(link.Name, sim.Config{
			LossPercent: link.LossPercent,
			DelayMS:     link.DelayMS,
			Seed:        link.Seed,
			Logger:      logger,
		})
		hubs[link.Name] = hub
		n.links = append(n.links, hub)
	}

	ifaceCfg := cfg.InterfaceParams(logger)
	for i := range cfg.Nodes {
		node := &cfg.Nodes[i]
		var ifaces []*netif.NetworkInterface
		for _, ic := range node.Interfaces {
			hub := hubs[ic.Link]
			iface := netif.New(node.Name+"/"+ic.Name, hub, ic.EthernetAddress, ic.IP.Addr(), ifaceCfg)
			hub.Attach(iface)
			ifaces = append(ifaces, iface)
		}

		if node.Kind == lnxconfig.KindRouter {
			r, err := newRouter(node, ifaces)
			if err != nil {
				return nil, errors.Wrapf(err, "router %q", node.Name)
			}
			n.routers[node.Name] = r
		} else {
			n.idleHosts[node.Name] = ifaces[0]
		}
		n.order = append(n.order, node.Name)
	}

	t := cfg.Transfer
	if t.From != "" && t.To != "" {
		from, _ := cfg.Node(t.From)
		to, _ := cfg.Node(t.To)
		var err error
		if n.hosts[t.From], err = newHost(cfg, n.idleHosts[t.From], from, to, t.FromPort, t.ToPort, wrapping.Wrap32(rand.Uint32())); err != nil {
			return nil, err
		}
		if n.hosts[t.To], err = newHost(cfg, n.idleHosts[t.To], to, from, t.ToPort, t.FromPort, wrapping.Wrap32(rand.Uint32())); err != nil {
			return nil, err
		}
		delete(n.idleHosts, t.From)
		delete(n.idleHosts, t.To)
	}
	return n, nil
}

func newRouter(node *lnxconfig.NodeConfig, ifaces []*netif.NetworkInterface) (*router.Router, error) {
	r := router.New()
	for _, iface := range ifaces {
		r.AddInterface(iface)
	}
	// Directly attached networks first.
	for i, ic := range node.Interfaces {
		if err := r.AddRoute(ic.IP.Masked(), netip.Addr{}, i); err != nil {
			return nil, err
		}
	}
	for _, rc := range node.Routes {
		if err := r.AddRoute(rc.Prefix, rc.NextHop, node.InterfaceIndex(rc.Interface)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func newHost(cfg *lnxconfig.NetConfig, iface *netif.NetworkInterface, local, remote *lnxconfig.NodeConfig, localPort, remotePort uint16, isn wrapping.Wrap32) (*host.Host, error) {
	gateway, _ := local.Gateway()
	h, err := host.New(iface, host.Config{
		TCP:        cfg.TCPParams(),
		LocalPort:  localPort,
		RemotePort: remotePort,
		RemoteIP:   remote.Interfaces[0].IP.Addr(),
		Gateway:    gateway,
		ISN:        isn,
		Logger:     logrus.StandardLogger(),
	})
	return h, errors.Wrapf(err, "host %q", local.Name)
}

// listSockets prints the socket table for the transfer hosts.
func (n *network) listSockets() {
	fmt.Println("SID  LAddr           LPort      RAddr          RPort    Status")
	sid := 0
	for _, name := range n.order {
		if h, ok := n.hosts[name]; ok {
			fmt.Println(strconv.Itoa(sid) + "    " + h.String())
			sid++
		}
	}
}

// step advances every node and link by stepMS.
func (n *network) step() {
	n.now += stepMS
	for _, link := range n.links {
		link.Tick(stepMS)
	}
	for _, name := range n.order {
		if r, ok := n.routers[name]; ok {
			r.Tick(stepMS)
			r.Route()
		} else if h, ok := n.hosts[name]; ok {
			h.Tick(stepMS)
		} else if iface, ok := n.idleHosts[name]; ok {
			iface.Tick(stepMS)
			for _, packet := range iface.DrainReceived() {
				if packet.Header.Protocol == protocol.TestProtocol {
					fmt.Println(name + ": received test packet: " + packet.String())
				}
			}
		}
	}
}

// run steps the network for at least ms milliseconds.
func (n *network) run(ms uint64) {
	for end := n.now + ms; n.now < end; {
		n.step()
	}
}
