package router

import (
	"strconv"

	"iptcp-stack/pkg/protocol"
)

// REPL commands
func (r *Router) Li() string {
	var res = "Num  Name  Addr          MAC"
	for i, iface := range r.interfaces {
		res += "\n" + strconv.Itoa(i) + "    " + iface.Name() + "  " + iface.IPAddress().String() + "  " + iface.EthernetAddress().String()
	}
	return res
}

func (r *Router) Ln() string {
	var res = "Iface VIP        MAC                Age"
	for _, iface := range r.interfaces {
		for _, neighbor := range iface.Neighbors() {
			res += "\n" + iface.Name() + "   " + neighbor.IPAddress.String() + "   " + neighbor.EthernetAddress.String() + "  " + strconv.FormatUint(neighbor.Age, 10)
		}
	}
	return res
}

func (r *Router) Lr() string {
	var res = "T     Prefix       Next hop    Iface"
	for _, route := range r.routes {
		routeType := "S"
		nextHopStr := protocol.FormatAddr(route.NextHop)
		if !route.NextHop.IsValid() {
			routeType = "L"
			nextHopStr = "LOCAL:" + r.interfaces[route.InterfaceNum].Name()
		}
		res += "\n" + routeType + "     " + route.Prefix.String() + "  " + nextHopStr + "   " + r.interfaces[route.InterfaceNum].Name()
	}
	return res
}
