package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"iptcp-stack/pkg/lnxconfig"
	"iptcp-stack/pkg/protocol"
	"iptcp-stack/pkg/router"
)

// routerCmd implements subcommands.Command for the "router" command.
type routerCmd struct{}

// Name implements subcommands.Command.Name.
func (*routerCmd) Name() string {
	return "router"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*routerCmd) Synopsis() string {
	return "interactive console for one router of the network"
}

// Usage implements subcommands.Command.Usage.
func (*routerCmd) Usage() string {
	return `router <name> - commands: li, ln, lr, ls, send <ip> <message>, tick <ms>, exit
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*routerCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*routerCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg, err := lnxconfig.ParseConfig(*configFile)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	n, err := buildNetwork(cfg)
	if err != nil {
		log.Fatalf("Error building network: %v", err)
	}
	r, ok := n.routers[f.Arg(0)]
	if !ok {
		log.Fatalf("No router named %q in %q", f.Arg(0), *configFile)
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		if !runCommand(n, r, strings.TrimSpace(scanner.Text())) {
			break
		}
		fmt.Print("> ")
	}
	return subcommands.ExitSuccess
}

// runCommand executes one console line and reports whether to keep going.
func runCommand(n *network, r *router.Router, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
	case "li":
		fmt.Println(r.Li())
	case "ln":
		fmt.Println(r.Ln())
	case "lr":
		fmt.Println(r.Lr())
	case "ls":
		n.listSockets()
	case "send":
		dst, message, _ := strings.Cut(rest, " ")
		destIP, err := netip.ParseAddr(dst)
		if err != nil || !destIP.Is4() {
			fmt.Println("Please enter a valid IP address after send")
			return true
		}
		if len(message) == 0 {
			fmt.Println("Please enter a valid message to send after the IP address")
			return true
		}
		src, ok := r.Interface(0)
		if !ok {
			fmt.Println("Router has no interfaces")
			return true
		}
		packet, err := protocol.NewIPPacket(src.IPAddress(), destIP, protocol.TestProtocol, protocol.DefaultTTL, []byte(message))
		if err != nil {
			fmt.Println(err)
			return true
		}
		if !r.Send(packet) {
			fmt.Println("No route to " + destIP.String())
			return true
		}
		// Give ARP and the links time to deliver.
		n.run(1000)
	case "tick":
		ms, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			fmt.Println("Please enter a number of milliseconds after tick")
			return true
		}
		n.run(ms)
	case "exit", "q":
		return false
	default:
		fmt.Println("Invalid command.")
	}
	return true
}
