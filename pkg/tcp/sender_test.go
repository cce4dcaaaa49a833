package tcp

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"

	"iptcp-stack/pkg/bytestream"
	"iptcp-stack/pkg/wrapping"
)

type transmitted struct {
	msgs []SenderMessage
}

func (tr *transmitted) transmit(msg SenderMessage) {
	tr.msgs = append(tr.msgs, msg)
}

// take returns and forgets everything transmitted so far.
func (tr *transmitted) take() []SenderMessage {
	msgs := tr.msgs
	tr.msgs = nil
	return msgs
}

func ack(isn wrapping.Wrap32, n uint64, window uint16) ReceiverMessage {
	ackno := wrapping.Wrap(n, isn)
	return ReceiverMessage{Ackno: &ackno, WindowSize: window}
}

func newTestSender(isn wrapping.Wrap32, cfg Config) (*Sender, *bytestream.ByteStream) {
	input := bytestream.New(cfg.Capacity)
	s := NewSender(input, isn, cfg)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	s.SetLogger(log)
	return s, input
}

var cmpMessages = cmpopts.EquateEmpty()

func TestSenderSYN(t *testing.T) {
	isn := wrapping.Wrap32(0xfffffff0)
	s, _ := newTestSender(isn, DefaultConfig())
	var tr transmitted

	s.Push(tr.transmit)
	want := []SenderMessage{{Seqno: isn, SYN: true}}
	if diff := cmp.Diff(want, tr.take(), cmpMessages); diff != "" {
		t.Fatalf("first push mismatch (-want +got):\n%s", diff)
	}
	if got, want := s.Status(), SynSent; got != want {
		t.Errorf("Status() = %v, want %v", got, want)
	}
	if got := s.SequenceNumbersInFlight(); got != 1 {
		t.Errorf("SequenceNumbersInFlight() = %d, want 1", got)
	}

	// Nothing else goes out until the SYN is acknowledged.
	s.Push(tr.transmit)
	if got := tr.take(); len(got) != 0 {
		t.Errorf("second push sent %v, want nothing", got)
	}

	s.Receive(ack(isn, 1, 1000))
	if got, want := s.Status(), Established; got != want {
		t.Errorf("Status() after ack = %v, want %v", got, want)
	}
	if got := s.SequenceNumbersInFlight(); got != 0 {
		t.Errorf("SequenceNumbersInFlight() after ack = %d, want 0", got)
	}
}

// TestSenderShortTransfer sends "ab" through a window of four sequence
// numbers: SYN, 'a', 'b' and FIN.
func TestSenderShortTransfer(t *testing.T) {
	isn := wrapping.Wrap32(0)
	s, input := newTestSender(isn, DefaultConfig())
	var tr transmitted

	s.Receive(ReceiverMessage{WindowSize: 4})
	input.Writer().Push([]byte("ab"))
	input.Writer().Close()

	s.Push(tr.transmit)
	s.Receive(ack(isn, 1, 4))
	s.Push(tr.transmit)

	want := []SenderMessage{
		{Seqno: 0, SYN: true},
		{Seqno: 1, Payload: []byte("ab"), FIN: true},
	}
	if diff := cmp.Diff(want, tr.take(), cmpMessages); diff != "" {
		t.Fatalf("transmitted mismatch (-want +got):\n%s", diff)
	}
	if got := s.SequenceNumbersInFlight(); got != 3 {
		t.Errorf("SequenceNumbersInFlight() = %d, want 3", got)
	}

	s.Receive(ack(isn, 4, 4))
	if got, want := s.Status(), Finished; got != want {
		t.Errorf("Status() = %v, want %v", got, want)
	}
	if got := s.SequenceNumbersInFlight(); got != 0 {
		t.Errorf("SequenceNumbersInFlight() = %d, want 0", got)
	}
	if got := input.Reader().BytesBuffered(); got != 0 {
		t.Errorf("input still buffers %d bytes", got)
	}
}

func TestSenderSYNAndFINTogether(t *testing.T) {
	isn := wrapping.Wrap32(77)
	s, input := newTestSender(isn, DefaultConfig())
	var tr transmitted

	s.Receive(ReceiverMessage{WindowSize: 10})
	input.Writer().Close()
	s.Push(tr.transmit)

	want := []SenderMessage{{Seqno: isn, SYN: true, FIN: true}}
	if diff := cmp.Diff(want, tr.take(), cmpMessages); diff != "" {
		t.Fatalf("transmitted mismatch (-want +got):\n%s", diff)
	}
	s.Receive(ack(isn, 2, 10))
	if got, want := s.Status(), Finished; got != want {
		t.Errorf("Status() = %v, want %v", got, want)
	}
	s.Push(tr.transmit)
	if got := tr.take(); len(got) != 0 {
		t.Errorf("push after FINISHED sent %v", got)
	}
}

func TestSenderRespectsWindow(t *testing.T) {
	isn := wrapping.Wrap32(1 << 20)
	s, input := newTestSender(isn, DefaultConfig())
	var tr transmitted

	s.Push(tr.transmit)
	s.Receive(ack(isn, 1, 4))
	tr.take()

	input.Writer().Push([]byte("abcdefgh"))
	s.Push(tr.transmit)
	want := []SenderMessage{{Seqno: isn.Add(1), Payload: []byte("abcd")}}
	if diff := cmp.Diff(want, tr.take(), cmpMessages); diff != "" {
		t.Fatalf("transmitted mismatch (-want +got):\n%s", diff)
	}
	if got := s.SequenceNumbersInFlight(); got > 4 {
		t.Errorf("SequenceNumbersInFlight() = %d exceeds window 4", got)
	}

	s.Receive(ack(isn, 5, 2))
	s.Push(tr.transmit)
	want = []SenderMessage{{Seqno: isn.Add(5), Payload: []byte("ef")}}
	if diff := cmp.Diff(want, tr.take(), cmpMessages); diff != "" {
		t.Errorf("transmitted after ack mismatch (-want +got):\n%s", diff)
	}
}

func TestSenderMaxPayloadSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPayloadSize = 3
	isn := wrapping.Wrap32(0)
	s, input := newTestSender(isn, cfg)
	var tr transmitted

	s.Push(tr.transmit)
	s.Receive(ack(isn, 1, 100))
	tr.take()

	input.Writer().Push([]byte("abcdefg"))
	input.Writer().Close()
	s.Push(tr.transmit)
	want := []SenderMessage{
		{Seqno: 1, Payload: []byte("abc")},
		{Seqno: 4, Payload: []byte("def")},
		{Seqno: 7, Payload: []byte("g"), FIN: true},
	}
	if diff := cmp.Diff(want, tr.take(), cmpMessages); diff != "" {
		t.Errorf("transmitted mismatch (-want +got):\n%s", diff)
	}
}

func TestSenderPartialAck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPayloadSize = 3
	isn := wrapping.Wrap32(0)
	s, input := newTestSender(isn, cfg)
	var tr transmitted

	s.Push(tr.transmit)
	s.Receive(ack(isn, 1, 10))
	input.Writer().Push([]byte("abcdefg"))
	s.Push(tr.transmit)
	tr.take()

	// Ack the first segment completely.
	s.Receive(ack(isn, 4, 10))
	if got, want := s.SequenceNumbersInFlight(), uint64(4); got != want {
		t.Errorf("SequenceNumbersInFlight() = %d, want %d", got, want)
	}
	if got, want := input.Reader().BytesPopped(), uint64(3); got != want {
		t.Errorf("BytesPopped() = %d, want %d", got, want)
	}

	// An ack in the middle of a segment releases the acknowledged prefix
	// and keeps only the tail outstanding.
	s.Receive(ack(isn, 6, 10))
	if got, want := s.SequenceNumbersInFlight(), uint64(2); got != want {
		t.Errorf("SequenceNumbersInFlight() = %d, want %d", got, want)
	}
	if got, want := input.Reader().BytesPopped(), uint64(5); got != want {
		t.Errorf("BytesPopped() = %d, want %d", got, want)
	}

	s.Tick(cfg.InitialRTO, tr.transmit)
	want := []SenderMessage{{Seqno: 6, Payload: []byte("f")}}
	if diff := cmp.Diff(want, tr.take(), cmpMessages); diff != "" {
		t.Errorf("retransmission mismatch (-want +got):\n%s", diff)
	}
}

// TestSenderRetransmitIntoShrunkWindow sends one large segment, shrinks the
// window below its size and acknowledges each retransmission. Every round
// must resend new bytes until the whole segment is acknowledged.
func TestSenderRetransmitIntoShrunkWindow(t *testing.T) {
	isn := wrapping.Wrap32(0)
	s, input := newTestSender(isn, DefaultConfig())
	var tr transmitted

	s.Push(tr.transmit)
	s.Receive(ack(isn, 1, 10))
	input.Writer().Push([]byte("0123456789"))
	s.Push(tr.transmit)
	tr.take()

	// Same ackno, smaller window.
	s.Receive(ack(isn, 1, 2))

	data := "0123456789"
	for seqno := uint64(1); seqno < 11; seqno += 2 {
		s.Tick(s.RTO(), tr.transmit)
		want := []SenderMessage{{
			Seqno:   wrapping.Wrap(seqno, isn),
			Payload: []byte(data[seqno-1 : seqno+1]),
		}}
		if diff := cmp.Diff(want, tr.take(), cmpMessages); diff != "" {
			t.Fatalf("retransmission at %d mismatch (-want +got):\n%s", seqno, diff)
		}

		s.Receive(ack(isn, seqno+2, 2))
		if got, want := s.SequenceNumbersInFlight(), 11-(seqno+2); got != want {
			t.Errorf("SequenceNumbersInFlight() after ack %d = %d, want %d", seqno+2, got, want)
		}
		if got := s.ConsecutiveRetransmissions(); got != 0 {
			t.Errorf("ConsecutiveRetransmissions() after ack %d = %d, want 0", seqno+2, got)
		}
	}
	if got, want := input.Reader().BytesPopped(), uint64(10); got != want {
		t.Errorf("BytesPopped() = %d, want %d", got, want)
	}
}

func TestSenderIgnoresStaleAcks(t *testing.T) {
	isn := wrapping.Wrap32(500)
	s, input := newTestSender(isn, DefaultConfig())
	var tr transmitted

	s.Push(tr.transmit)
	s.Receive(ack(isn, 1, 100))
	input.Writer().Push([]byte("hello"))
	s.Push(tr.transmit)

	for _, tc := range []struct {
		name string
		n    uint64
	}{
		{"beyond next seqno", 7},
		{"equal to ackno", 1},
		{"before ackno", 0},
	} {
		s.Receive(ack(isn, tc.n, 3))
		if got, want := s.SequenceNumbersInFlight(), uint64(5); got != want {
			t.Errorf("%s: SequenceNumbersInFlight() = %d, want %d", tc.name, got, want)
		}
		if got, want := s.Status(), Established; got != want {
			t.Errorf("%s: Status() = %v, want %v", tc.name, got, want)
		}
	}

	// The window from the stale ack was still recorded.
	s.Receive(ack(isn, 6, 3))
	input.Writer().Push([]byte("world"))
	s.Push(tr.transmit)
	if got := s.SequenceNumbersInFlight(); got != 3 {
		t.Errorf("SequenceNumbersInFlight() = %d, want 3", got)
	}
}

func TestSenderRetransmissionBackoff(t *testing.T) {
	cfg := DefaultConfig()
	isn := wrapping.Wrap32(42)
	s, _ := newTestSender(isn, cfg)
	var tr transmitted

	s.Push(tr.transmit)
	tr.take()

	s.Tick(cfg.InitialRTO-1, tr.transmit)
	if got := tr.take(); len(got) != 0 {
		t.Fatalf("retransmitted %v before the RTO expired", got)
	}
	s.Tick(1, tr.transmit)
	want := []SenderMessage{{Seqno: isn, SYN: true}}
	if diff := cmp.Diff(want, tr.take(), cmpMessages); diff != "" {
		t.Fatalf("retransmission mismatch (-want +got):\n%s", diff)
	}
	if got := s.ConsecutiveRetransmissions(); got != 1 {
		t.Errorf("ConsecutiveRetransmissions() = %d, want 1", got)
	}

	// The RTO doubled.
	s.Tick(2*cfg.InitialRTO-1, tr.transmit)
	if got := tr.take(); len(got) != 0 {
		t.Fatalf("retransmitted %v before the doubled RTO expired", got)
	}
	s.Tick(1, tr.transmit)
	if got := len(tr.take()); got != 1 {
		t.Fatalf("got %d retransmissions, want 1", got)
	}
	if got := s.ConsecutiveRetransmissions(); got != 2 {
		t.Errorf("ConsecutiveRetransmissions() = %d, want 2", got)
	}

	s.Receive(ack(isn, 1, 10))
	if got := s.ConsecutiveRetransmissions(); got != 0 {
		t.Errorf("ConsecutiveRetransmissions() after ack = %d, want 0", got)
	}
	if got := s.RTO(); got != cfg.InitialRTO {
		t.Errorf("RTO() after ack = %d, want %d", got, cfg.InitialRTO)
	}

	// With nothing outstanding the timer does not run.
	s.Tick(10*cfg.InitialRTO, tr.transmit)
	if got := tr.take(); len(got) != 0 {
		t.Errorf("idle sender retransmitted %v", got)
	}
}

func TestSenderZeroWindowProbe(t *testing.T) {
	cfg := DefaultConfig()
	isn := wrapping.Wrap32(0)
	s, input := newTestSender(isn, cfg)
	var tr transmitted

	s.Push(tr.transmit)
	s.Receive(ack(isn, 1, 0))
	tr.take()

	input.Writer().Push([]byte("ab"))
	s.Push(tr.transmit)
	want := []SenderMessage{{Seqno: 1, Payload: []byte("a")}}
	if diff := cmp.Diff(want, tr.take(), cmpMessages); diff != "" {
		t.Fatalf("probe mismatch (-want +got):\n%s", diff)
	}

	for i := 1; i <= 3; i++ {
		s.Tick(cfg.InitialRTO, tr.transmit)
		if diff := cmp.Diff(want, tr.take(), cmpMessages); diff != "" {
			t.Fatalf("probe %d mismatch (-want +got):\n%s", i, diff)
		}
		if got := s.RTO(); got != cfg.InitialRTO {
			t.Errorf("probe %d: RTO() = %d, want %d", i, got, cfg.InitialRTO)
		}
		if got := s.ConsecutiveRetransmissions(); got != uint64(i) {
			t.Errorf("probe %d: ConsecutiveRetransmissions() = %d, want %d", i, got, i)
		}
	}
}

func TestSenderRST(t *testing.T) {
	isn := wrapping.Wrap32(9)
	s, input := newTestSender(isn, DefaultConfig())

	s.Receive(ReceiverMessage{RST: true})
	if !input.Reader().HasError() {
		t.Error("RST did not set the stream error")
	}
	if msg := s.MakeEmptyMessage(); !msg.RST || msg.SequenceLength() != 0 {
		t.Errorf("MakeEmptyMessage() = %+v, want an empty RST", msg)
	}
}
