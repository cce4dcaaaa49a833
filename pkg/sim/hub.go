// Package sim provides a simulated broadcast link for wiring network
// interfaces together in tests and in the vnet command.
package sim

import (
	"container/heap"
	"math/rand"

	"github.com/sirupsen/logrus"

	"iptcp-stack/pkg/netif"
)

type Config struct {
	// LossPercent is the chance, 0 to 100, that a frame is dropped.
	LossPercent float64
	// DelayMS is how long a frame spends on the link.
	DelayMS uint64
	Seed    int64
	Logger  logrus.FieldLogger
}

// Hub is a shared link. Every frame transmitted by an attached interface is
// delivered, after the link delay, to every other attached interface.
type Hub struct {
	name       string
	cfg        Config
	log        logrus.FieldLogger
	rng        *rand.Rand
	now        uint64
	seq        uint64
	queue      deliveryQueue
	interfaces []*netif.NetworkInterface

	transmitted uint64
	dropped     uint64
}

func NewHub(name string, cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Hub{
		name: name,
		cfg:  cfg,
		log:  cfg.Logger.WithField("link", name),
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (h *Hub) Name() string { return h.name }

// Attach adds iface to the set of receivers. The interface should have been
// created with h as its output port.
func (h *Hub) Attach(iface *netif.NetworkInterface) {
	h.interfaces = append(h.interfaces, iface)
}

// Transmit implements netif.OutputPort.
func (h *Hub) Transmit(sender *netif.NetworkInterface, frame netif.EthernetFrame) {
	h.transmitted++
	if h.cfg.LossPercent > 0 && h.rng.Float64()*100 < h.cfg.LossPercent {
		h.dropped++
		h.log.WithField("type", frame.Header.Type).Debug("frame lost")
		return
	}
	heap.Push(&h.queue, &delivery{
		at:     h.now + h.cfg.DelayMS,
		seq:    h.seq,
		sender: sender,
		frame:  frame.Marshal(),
	})
	h.seq++
}

// Tick advances the link clock and delivers every frame now due. Frames
// transmitted during delivery wait for the next Tick.
func (h *Hub) Tick(msSinceLastTick uint64) {
	h.now += msSinceLastTick
	var due []*delivery
	for h.queue.Len() > 0 && h.queue[0].at <= h.now {
		due = append(due, heap.Pop(&h.queue).(*delivery))
	}
	for _, d := range due {
		frame, err := netif.ParseFrame(d.frame)
		if err != nil {
			h.log.WithError(err).Warn("dropping unparsable frame")
			continue
		}
		for _, iface := range h.interfaces {
			if iface != d.sender {
				iface.RecvFrame(frame)
			}
		}
	}
}

// InFlight is the number of frames on the link.
func (h *Hub) InFlight() int { return h.queue.Len() }

// Stats returns how many frames were transmitted and how many of those
// were lost.
func (h *Hub) Stats() (transmitted, dropped uint64) {
	return h.transmitted, h.dropped
}
