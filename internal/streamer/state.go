package streamer

import (
	"github.com/tphakala/streamcore/internal/events"
	"github.com/tphakala/streamcore/internal/metrics"
)

// State is one of the Streamer's lifecycle states (spec.md §4.3).
type State int

const (
	StateInitialized State = iota
	StateWaitingForData
	StateWaitingForQueueToStart
	StatePlaying
	StatePaused
	StateStopped
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateWaitingForData:
		return "waiting_for_data"
	case StateWaitingForQueueToStart:
		return "waiting_for_queue_to_start"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateStopped || s == StateDone
}

// DoneReason classifies why a terminal state was reached.
type DoneReason int

const (
	DoneReasonNone DoneReason = iota
	DoneReasonStopped
	DoneReasonError
	DoneReasonEOF
)

func (r DoneReason) String() string {
	switch r {
	case DoneReasonStopped:
		return "stopped"
	case DoneReasonError:
		return "error"
	case DoneReasonEOF:
		return "eof"
	default:
		return "none"
	}
}

// doneReasonLocked implements done_reason() (spec.md §4.3). Only valid while
// holding s.mu (for a read) or from the run loop itself.
func (s *Streamer) doneReasonLocked() DoneReason {
	switch {
	case s.observed.state == StateStopped:
		return DoneReasonStopped
	case s.observed.state == StateDone && s.observed.lastErr != nil:
		return DoneReasonError
	case s.observed.state == StateDone:
		return DoneReasonEOF
	default:
		return DoneReasonNone
	}
}

// setState implements every State Machine transition in spec.md §4.3: it
// updates the observed state and posts StatusChanged. Called only from the
// run loop; takes s.mu briefly so concurrent query methods see a consistent
// snapshot.
func (s *Streamer) setState(next State, reason string) {
	s.mu.Lock()
	changed := s.observed.state != next
	if changed {
		s.observed.state = next
	}
	errText := ""
	if s.observed.lastErr != nil {
		errText = s.observed.lastErr.Error()
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	metrics.Get().RecordStateTransition(s.id, next.String(), reason)
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Kind:     events.KindStatusChanged,
			StreamID: s.id,
			State:    next.String(),
			Reason:   reason,
			ErrorText: errText,
		})
	}
}
