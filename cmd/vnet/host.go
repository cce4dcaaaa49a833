package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/google/subcommands"

	"iptcp-stack/pkg/lnxconfig"
)

// hostCmd implements subcommands.Command for the "host" command.
type hostCmd struct {
	message string
	repeat  int
	maxMS   uint64
}

// Name implements subcommands.Command.Name.
func (*hostCmd) Name() string {
	return "host"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*hostCmd) Synopsis() string {
	return "transfer a message between the two transfer hosts of the config"
}

// Usage implements subcommands.Command.Usage.
func (*hostCmd) Usage() string {
	return `host [flags] - send -message from the transfer's "from" host to its "to" host and print what arrived
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (h *hostCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&h.message, "message", "hello from vnet", "message to send")
	f.IntVar(&h.repeat, "repeat", 1, "send the message this many times")
	f.Uint64Var(&h.maxMS, "max_ms", 600000, "give up after this much simulated time")
}

// Execute implements subcommands.Command.Execute.
func (h *hostCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 || h.repeat < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg, err := lnxconfig.ParseConfig(*configFile)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if cfg.Transfer.From == "" || cfg.Transfer.To == "" {
		log.Fatalf("Config %q has no transfer", *configFile)
	}
	n, err := buildNetwork(cfg)
	if err != nil {
		log.Fatalf("Error building network: %v", err)
	}
	from, to := n.hosts[cfg.Transfer.From], n.hosts[cfg.Transfer.To]

	var data []byte
	for i := 0; i < h.repeat; i++ {
		data = append(data, h.message...)
	}
	to.Outbound().Close()

	var received []byte
	for sent := 0; n.now < h.maxMS && !(from.Done() && to.Done()); {
		if sent < len(data) {
			accepted, _ := from.Outbound().Write(data[sent:])
			sent += accepted
			if sent == len(data) {
				from.Outbound().Close()
			}
		}
		n.step()
		received = append(received, to.Inbound().Peek()...)
		to.Inbound().Pop(to.Inbound().BytesBuffered())
		if from.Aborted() || to.Aborted() {
			break
		}
	}

	n.listSockets()
	for _, link := range n.links {
		transmitted, dropped := link.Stats()
		fmt.Printf("%s: %d frames, %d lost\n", link.Name(), transmitted, dropped)
	}
	if !from.Done() || !to.Done() {
		fmt.Printf("Transfer failed after %d ms: received %d of %d bytes\n", n.now, len(received), len(data))
		return subcommands.ExitFailure
	}
	fmt.Printf("Transfer finished after %d ms: %d bytes\n", n.now, len(received))
	if h.repeat == 1 {
		fmt.Printf("Received: %q\n", received)
	}
	if string(received) != string(data) {
		fmt.Println("Received data does not match what was sent")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
