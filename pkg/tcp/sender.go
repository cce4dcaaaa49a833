package tcp

import (
	"bytes"
	"sort"

	"github.com/sirupsen/logrus"

	"iptcp-stack/pkg/bytestream"
	"iptcp-stack/pkg/wrapping"
)

// Status is the state of a Sender.
type Status int

const (
	// Closed: nothing sent yet.
	Closed Status = iota
	// SynSent: SYN sent, not yet acknowledged.
	SynSent
	// Established: SYN acknowledged, FIN not sent.
	Established
	// FinSent: FIN sent, not yet acknowledged.
	FinSent
	// Finished: FIN acknowledged.
	Finished
)

func (s Status) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case SynSent:
		return "SYN_SENT"
	case Established:
		return "ESTABLISHED"
	case FinSent:
		return "FIN_SENT"
	case Finished:
		return "FINISHED"
	}
	return "UNKNOWN"
}

// Sender reads from an outbound ByteStream and frames it into segments that
// fit the peer's advertised window. Unacknowledged segments are tracked by
// their first absolute sequence number and retransmitted on timeout.
type Sender struct {
	input *bytestream.ByteStream
	isn   wrapping.Wrap32
	cfg   Config
	log   logrus.FieldLogger

	nextSeqno   uint64
	ackno       uint64
	windowSize  uint16
	outstanding []uint64

	rto             uint64
	timer           uint64
	retransmissions uint64
	status          Status
}

// NewSender returns a Sender for input that numbers bytes starting at isn.
func NewSender(input *bytestream.ByteStream, isn wrapping.Wrap32, cfg Config) *Sender {
	return &Sender{
		input:      input,
		isn:        isn,
		cfg:        cfg,
		log:        logrus.StandardLogger(),
		windowSize: 1,
		rto:        cfg.InitialRTO,
	}
}

// SetLogger replaces the logger used for retransmission events.
func (s *Sender) SetLogger(log logrus.FieldLogger) { s.log = log }

// window is the advertised window, with zero treated as one so that a
// closed window is still probed.
func (s *Sender) window() uint64 {
	if s.windowSize == 0 {
		return 1
	}
	return uint64(s.windowSize)
}

// Push sends as many new segments as the window allows.
func (s *Sender) Push(transmit TransmitFunc) {
	window := s.window()
	for (s.status == Closed || s.status == Established) && window > s.SequenceNumbersInFlight() {
		inFlight := s.SequenceNumbersInFlight()
		input := s.input.Reader().Peek()
		msg := SenderMessage{
			Seqno: wrapping.Wrap(s.nextSeqno, s.isn),
			SYN:   s.status == Closed,
			RST:   s.input.Reader().HasError(),
		}

		var syn uint64
		if msg.SYN {
			syn = 1
		} else if inFlight < uint64(len(input)) {
			// The reader is positioned at ackno, so unsent bytes begin
			// inFlight bytes in.
			data := input[inFlight:]
			size := min(s.cfg.MaxPayloadSize, uint64(len(data)), window-inFlight)
			msg.Payload = bytes.Clone(data[:size])
		}

		payload := uint64(len(msg.Payload))
		msg.FIN = s.input.Writer().IsClosed() &&
			s.nextSeqno+payload == s.ackno+uint64(len(input)) &&
			window > inFlight+syn+payload

		if msg.SequenceLength() == 0 {
			return
		}

		switch {
		case msg.FIN:
			s.status = FinSent
		case msg.SYN:
			s.status = SynSent
		}
		s.outstanding = append(s.outstanding, s.nextSeqno)
		s.nextSeqno += msg.SequenceLength()
		transmit(msg)
	}
}

// MakeEmptyMessage returns a segment that occupies no sequence space, for
// acknowledgments that carry no data.
func (s *Sender) MakeEmptyMessage() SenderMessage {
	return SenderMessage{
		Seqno: wrapping.Wrap(s.nextSeqno, s.isn),
		RST:   s.input.Reader().HasError(),
	}
}

// Receive processes an ackno and window from the peer. Acks that do not
// advance, or that acknowledge data never sent, only update the window.
func (s *Sender) Receive(msg ReceiverMessage) {
	if s.status == Finished {
		return
	}
	if msg.RST {
		s.input.Reader().SetError()
	}

	if msg.Ackno != nil {
		ackno := msg.Ackno.Unwrap(s.isn, s.nextSeqno)
		if ackno > s.ackno && ackno <= s.nextSeqno {
			s.acknowledge(ackno)
		}
	}
	s.windowSize = msg.WindowSize
}

func (s *Sender) acknowledge(ackno uint64) {
	s.rto = s.cfg.InitialRTO
	s.timer = 0
	s.retransmissions = 0

	if ackno == s.nextSeqno {
		s.outstanding = s.outstanding[:0]
		if s.status != SynSent {
			s.input.Reader().Pop(ackno - s.ackno)
		}
		s.ackno = ackno

		switch s.status {
		case SynSent:
			s.status = Established
		case FinSent:
			s.status = Finished
		}
		return
	}

	// The segment containing ackno is only partly acknowledged. Split it
	// so its unacknowledged tail becomes the head of the queue.
	// outstanding[0] == s.ackno < ackno, so i >= 1. A partial ack is only
	// possible once established, so the SYN is never split.
	i := sort.Search(len(s.outstanding), func(i int) bool { return s.outstanding[i] > ackno })
	s.outstanding = s.outstanding[i-1:]
	s.outstanding[0] = ackno
	s.input.Reader().Pop(ackno - s.ackno)
	s.ackno = ackno
}

// Tick advances the retransmission timer by ms milliseconds and resends the
// oldest outstanding segment if the timer expires.
func (s *Sender) Tick(ms uint64, transmit TransmitFunc) {
	if s.status == Finished {
		return
	}
	if len(s.outstanding) == 0 {
		s.timer = 0
		return
	}

	s.timer += ms
	if s.timer < s.rto {
		return
	}

	msg := s.oldestOutstanding()

	// A zero window means this timeout was a window probe, not a loss.
	if s.windowSize != 0 {
		s.rto *= 2
	}
	s.retransmissions++
	s.timer = 0

	s.log.WithFields(logrus.Fields{
		"seqno":   msg.Seqno,
		"length":  msg.SequenceLength(),
		"attempt": s.retransmissions,
		"rto":     s.rto,
	}).Debug("retransmitting segment")

	if msg.SequenceLength() > 0 {
		transmit(msg)
	}
}

// oldestOutstanding rebuilds the first unacknowledged segment.
func (s *Sender) oldestOutstanding() SenderMessage {
	start := s.outstanding[0]
	input := s.input.Reader().Peek()
	window := s.window()

	msg := SenderMessage{
		Seqno: wrapping.Wrap(start, s.isn),
		SYN:   start == 0,
		RST:   s.input.Reader().HasError(),
	}
	var syn uint64
	if msg.SYN {
		syn = 1
	}

	var size uint64
	if len(s.outstanding) > 1 {
		size = s.outstanding[1] - start - syn
	} else {
		sent := s.nextSeqno - start - syn
		if s.status == FinSent {
			sent--
		}
		size = min(s.cfg.MaxPayloadSize, sent, window)
	}
	size = min(size, uint64(len(input)))
	if size > 0 {
		msg.Payload = bytes.Clone(input[:size])
	}

	msg.FIN = s.status == FinSent &&
		start+syn+size+1 == s.nextSeqno &&
		window > syn+size
	return msg
}

// SequenceNumbersInFlight is how many sequence numbers are sent but not
// acknowledged.
func (s *Sender) SequenceNumbersInFlight() uint64 { return s.nextSeqno - s.ackno }

// ConsecutiveRetransmissions counts timeouts since the last ack that made
// progress.
func (s *Sender) ConsecutiveRetransmissions() uint64 { return s.retransmissions }

// Status returns the sender's current state.
func (s *Sender) Status() Status { return s.status }

// RTO returns the current retransmission timeout in ms.
func (s *Sender) RTO() uint64 { return s.rto }
