package publisher

import (
	"sluice/internal/record"
	"sluice/internal/telemetry"
	"sluice/sink"
)

type State int

const (
	Pending State = iota
	Sent
	Acked
	FailedRetryable
	FailedFatal
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sent:
		return "sent"
	case Acked:
		return "acked"
	case FailedRetryable:
		return "failed_retryable"
	case FailedFatal:
		return "failed_fatal"
	}
	return "unknown"
}

var transitions = map[State][]State{
	Pending:         {Sent, FailedFatal},
	Sent:            {Acked, FailedRetryable, FailedFatal},
	FailedRetryable: {Sent, FailedFatal},
}

func canMove(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Batch is a run of payloads from one lane, sent and acknowledged as a unit.
// Payloads keep the order they were dispatched in.
type Batch struct {
	Seq      uint64
	Lane     int
	Payloads []record.Payload
	Bytes    int
	State    State
	Attempts int
	Result   sink.Result
}

// move applies a state transition, ignoring ones the state machine forbids.
func (b *Batch) move(to State) bool {
	if !canMove(b.State, to) {
		return false
	}
	b.State = to
	telemetry.Batches.WithLabelValues(to.String()).Inc()
	return true
}

func (b *Batch) Offsets() []int64 {
	out := make([]int64, len(b.Payloads))
	for i, p := range b.Payloads {
		out[i] = p.Offset
	}
	return out
}
