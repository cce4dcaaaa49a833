// Package lnxconfig loads a virtual network description: links, nodes with
// their interfaces and static routes, protocol parameters, and the transfer
// to run.
package lnxconfig

import (
	"net"
	"net/netip"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/netstack/tcpip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"iptcp-stack/pkg/netif"
	"iptcp-stack/pkg/tcp"
)

type NodeKind string

const (
	KindHost   NodeKind = "host"
	KindRouter NodeKind = "router"
)

type TCPConfig struct {
	InitialRTO      uint64 `toml:"initial_rto_ms"`
	MaxPayloadSize  uint64 `toml:"max_payload_size"`
	Capacity        uint64 `toml:"capacity"`
	MaxRetxAttempts uint64 `toml:"max_retx_attempts"`
}

type ARPConfig struct {
	EntryTTL        uint64 `toml:"entry_ttl_ms"`
	RequestInterval uint64 `toml:"request_interval_ms"`
}

type LinkConfig struct {
	Name        string  `toml:"name"`
	LossPercent float64 `toml:"loss_percent"`
	DelayMS     uint64  `toml:"delay_ms"`
	Seed        int64   `toml:"seed"`
}

type InterfaceConfig struct {
	Name string       `toml:"name"`
	MAC  string       `toml:"mac"`
	IP   netip.Prefix `toml:"ip"`
	Link string       `toml:"link"`

	// EthernetAddress is MAC, parsed.
	EthernetAddress tcpip.LinkAddress `toml:"-"`
}

type RouteConfig struct {
	Prefix netip.Prefix `toml:"prefix"`
	// NextHop is unset for a directly attached network.
	NextHop   netip.Addr `toml:"next_hop"`
	Interface string     `toml:"interface"`
}

type NodeConfig struct {
	Name       string            `toml:"name"`
	Kind       NodeKind          `toml:"kind"`
	Interfaces []InterfaceConfig `toml:"interface"`
	Routes     []RouteConfig     `toml:"route"`
}

type TransferConfig struct {
	From     string `toml:"from"`
	To       string `toml:"to"`
	FromPort uint16 `toml:"from_port"`
	ToPort   uint16 `toml:"to_port"`
}

// NetConfig is a whole virtual network.
type NetConfig struct {
	TCP      TCPConfig      `toml:"tcp"`
	ARP      ARPConfig      `toml:"arp"`
	Links    []LinkConfig   `toml:"link"`
	Nodes    []NodeConfig   `toml:"node"`
	Transfer TransferConfig `toml:"transfer"`
}

func defaultConfig() NetConfig {
	tcpCfg := tcp.DefaultConfig()
	return NetConfig{
		TCP: TCPConfig{
			InitialRTO:      tcpCfg.InitialRTO,
			MaxPayloadSize:  tcpCfg.MaxPayloadSize,
			Capacity:        tcpCfg.Capacity,
			MaxRetxAttempts: tcpCfg.MaxRetxAttempts,
		},
		ARP: ARPConfig{
			EntryTTL:        netif.ARPEntryTTL,
			RequestInterval: netif.ARPRequestInterval,
		},
		Transfer: TransferConfig{
			FromPort: 40000,
			ToPort:   9999,
		},
	}
}

// ParseConfig reads and validates the network description at path. Keys
// left out keep their defaults; unknown keys are an error.
func ParseConfig(path string) (*NetConfig, error) {
	cfg := defaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, errors.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return &cfg, nil
}

func (c *NetConfig) validate() error {
	if c.TCP.InitialRTO == 0 || c.TCP.MaxPayloadSize == 0 || c.TCP.Capacity == 0 {
		return errors.New("tcp parameters must be positive")
	}

	links := make(map[string]bool)
	for _, link := range c.Links {
		if link.Name == "" {
			return errors.New("link with no name")
		}
		if links[link.Name] {
			return errors.Errorf("duplicate link %q", link.Name)
		}
		if link.LossPercent < 0 || link.LossPercent > 100 {
			return errors.Errorf("link %q: loss_percent %v out of range", link.Name, link.LossPercent)
		}
		links[link.Name] = true
	}

	nodes := make(map[string]bool)
	for i := range c.Nodes {
		node := &c.Nodes[i]
		if node.Name == "" {
			return errors.New("node with no name")
		}
		if nodes[node.Name] {
			return errors.Errorf("duplicate node %q", node.Name)
		}
		nodes[node.Name] = true
		if err := node.validate(links); err != nil {
			return errors.Wrapf(err, "node %q", node.Name)
		}
	}

	if c.Transfer.From != "" && c.Transfer.From == c.Transfer.To {
		return errors.Errorf("transfer from %q to itself", c.Transfer.From)
	}
	for _, end := range []string{c.Transfer.From, c.Transfer.To} {
		if end == "" {
			continue
		}
		node, ok := c.Node(end)
		if !ok {
			return errors.Errorf("transfer endpoint %q is not a node", end)
		}
		if node.Kind != KindHost {
			return errors.Errorf("transfer endpoint %q is not a host", end)
		}
	}
	return nil
}

func (n *NodeConfig) validate(links map[string]bool) error {
	if n.Kind == "" {
		n.Kind = KindHost
	}
	if n.Kind != KindHost && n.Kind != KindRouter {
		return errors.Errorf("unknown kind %q", n.Kind)
	}
	if len(n.Interfaces) == 0 {
		return errors.New("no interfaces")
	}
	if n.Kind == KindHost && len(n.Interfaces) != 1 {
		return errors.Errorf("host has %d interfaces, want 1", len(n.Interfaces))
	}

	names := make(map[string]bool)
	for i := range n.Interfaces {
		iface := &n.Interfaces[i]
		if names[iface.Name] {
			return errors.Errorf("duplicate interface %q", iface.Name)
		}
		names[iface.Name] = true
		if !links[iface.Link] {
			return errors.Errorf("interface %q: unknown link %q", iface.Name, iface.Link)
		}
		if !iface.IP.IsValid() || !iface.IP.Addr().Is4() {
			return errors.Errorf("interface %q: ip must be an ipv4 address/prefix", iface.Name)
		}
		hw, err := net.ParseMAC(iface.MAC)
		if err != nil || len(hw) != 6 {
			return errors.Errorf("interface %q: bad mac %q", iface.Name, iface.MAC)
		}
		iface.EthernetAddress = tcpip.LinkAddress(hw)
	}

	for _, route := range n.Routes {
		if !route.Prefix.IsValid() || !route.Prefix.Addr().Is4() {
			return errors.Errorf("route prefix %q is not ipv4", route.Prefix)
		}
		if route.NextHop.IsValid() && !route.NextHop.Is4() {
			return errors.Errorf("route %s: next hop %s is not ipv4", route.Prefix, route.NextHop)
		}
		if !names[route.Interface] {
			return errors.Errorf("route %s: unknown interface %q", route.Prefix, route.Interface)
		}
	}
	if n.Kind == KindHost {
		if _, ok := n.Gateway(); !ok {
			return errors.New("host has no default route")
		}
	}
	return nil
}

// Node finds a node by name.
func (c *NetConfig) Node(name string) (*NodeConfig, bool) {
	for i := range c.Nodes {
		if c.Nodes[i].Name == name {
			return &c.Nodes[i], true
		}
	}
	return nil, false
}

// Gateway is the next hop of the node's default route.
func (n *NodeConfig) Gateway() (netip.Addr, bool) {
	for _, route := range n.Routes {
		if route.Prefix.Bits() == 0 && route.NextHop.IsValid() {
			return route.NextHop, true
		}
	}
	return netip.Addr{}, false
}

// InterfaceIndex returns the position of the named interface.
func (n *NodeConfig) InterfaceIndex(name string) int {
	for i, iface := range n.Interfaces {
		if iface.Name == name {
			return i
		}
	}
	return -1
}

func (c *NetConfig) TCPParams() tcp.Config {
	return tcp.Config{
		InitialRTO:      c.TCP.InitialRTO,
		MaxPayloadSize:  c.TCP.MaxPayloadSize,
		Capacity:        c.TCP.Capacity,
		MaxRetxAttempts: c.TCP.MaxRetxAttempts,
	}
}

func (c *NetConfig) InterfaceParams(logger logrus.FieldLogger) netif.Config {
	return netif.Config{
		ARPEntryTTL:        c.ARP.EntryTTL,
		ARPRequestInterval: c.ARP.RequestInterval,
		Logger:             logger,
	}
}
