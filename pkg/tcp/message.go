// Package tcp implements the two halves of a TCP endpoint: a Sender that
// turns an outbound byte stream into segments and retransmits them, and a
// Receiver that reassembles inbound segments and reports the ackno and
// window back to the peer.
package tcp

import (
	"iptcp-stack/pkg/wrapping"
)

// SenderMessage is the part of a segment produced by a Sender: sequence
// number, SYN/FIN flags and payload.
type SenderMessage struct {
	Seqno   wrapping.Wrap32
	SYN     bool
	Payload []byte
	FIN     bool
	RST     bool
}

// SequenceLength is the number of sequence numbers the message occupies.
func (m SenderMessage) SequenceLength() uint64 {
	n := uint64(len(m.Payload))
	if m.SYN {
		n++
	}
	if m.FIN {
		n++
	}
	return n
}

// ReceiverMessage is the part of a segment produced by a Receiver. Ackno is
// nil until the receiver has seen a SYN.
type ReceiverMessage struct {
	Ackno      *wrapping.Wrap32
	WindowSize uint16
	RST        bool
}

// TransmitFunc hands a finished segment to whatever carries it to the peer.
type TransmitFunc func(SenderMessage)
