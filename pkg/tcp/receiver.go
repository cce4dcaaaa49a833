package tcp

import (
	"math"

	"iptcp-stack/pkg/bytestream"
	"iptcp-stack/pkg/reassembler"
	"iptcp-stack/pkg/wrapping"
)

// Receiver feeds inbound segments into a Reassembler and reports the ackno
// and window the peer's Sender needs.
type Receiver struct {
	reassembler *reassembler.Reassembler
	isn         wrapping.Wrap32
	connected   bool
}

// NewReceiver returns a Receiver writing through r.
func NewReceiver(r *reassembler.Reassembler) *Receiver {
	return &Receiver{reassembler: r}
}

// Receive handles one segment from the peer.
func (r *Receiver) Receive(msg SenderMessage) {
	if msg.RST {
		r.reassembler.Reader().SetError()
		return
	}

	if msg.SYN && !r.connected {
		r.isn = msg.Seqno
		r.connected = true
		r.reassembler.Insert(0, msg.Payload, msg.FIN)
		return
	}

	if !r.connected {
		return
	}

	// Absolute sequence number 0 is the SYN; stream index is one less.
	abs := msg.Seqno.Unwrap(r.isn, r.reassembler.Writer().BytesPushed())
	if abs > 0 {
		r.reassembler.Insert(abs-1, msg.Payload, msg.FIN)
	}
}

// Send returns the message to piggyback on the next outbound segment.
func (r *Receiver) Send() ReceiverMessage {
	w := r.reassembler.Writer()
	msg := ReceiverMessage{
		WindowSize: uint16(min(w.AvailableCapacity(), math.MaxUint16)),
		RST:        w.HasError(),
	}
	if r.connected {
		next := w.BytesPushed() + 1
		if w.IsClosed() {
			next++
		}
		ackno := wrapping.Wrap(next, r.isn)
		msg.Ackno = &ackno
	}
	return msg
}

// Connected reports whether a SYN has been received.
func (r *Receiver) Connected() bool { return r.connected }

// Reader returns the inbound stream's Reader.
func (r *Receiver) Reader() *bytestream.Reader { return r.reassembler.Reader() }
