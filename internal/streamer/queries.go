package streamer

import (
	"github.com/tphakala/streamcore/internal/bitrate"
)

// Progress implements progress(out seconds) → bool (spec.md §4.11/§6).
func (s *Streamer) Progress() (seconds float64, ok bool) {
	s.mu.RLock()
	state := s.observed.state
	last := s.observed.lastProgress
	started := s.observed.started
	s.mu.RUnlock()
	if !started {
		return 0, false
	}

	sampleRate := s.sampleRateSnapshot()
	stopped := state == StateStopped || state == StateDone
	var queueSampleTime int64
	if s.queue != nil {
		queueSampleTime = s.queue.SampleTime()
	}
	p := bitrate.Progress(s.seekTimeSnapshot(), float64(queueSampleTime), sampleRate, stopped, last)

	s.mu.Lock()
	s.observed.lastProgress = p
	s.mu.Unlock()
	return p, true
}

// Duration implements duration(out seconds) → bool.
func (s *Streamer) Duration() (seconds float64, ok bool) {
	s.mu.RLock()
	started := s.observed.started
	acc := s.acc
	s.mu.RUnlock()
	if !started {
		return 0, false
	}
	var bps float64
	if acc != nil {
		if b, bpsOK := acc.BitRate(); bpsOK {
			bps = b
		}
	}
	return bitrate.Duration(
		-1, false, // no parser-reported packet count: see DESIGN.md
		s.totalAudioPacketsSnapshot(),
		s.asbdSnapshot().FramesPerPacket,
		s.asbdSnapshot().SampleRate,
		s.fileLengthSnapshot(),
		s.dataOffsetSnapshot(),
		bps,
	)
}

// CalculatedBitRate implements calculated_bit_rate(out bps) → bool.
func (s *Streamer) CalculatedBitRate() (bps float64, ok bool) {
	s.mu.RLock()
	acc := s.acc
	s.mu.RUnlock()
	if acc == nil {
		return 0, false
	}
	return acc.BitRate()
}

// IsPlaying, IsPaused, IsWaiting, IsDone implement the status predicates of
// spec.md §6.
func (s *Streamer) IsPlaying() bool { return s.stateIs(StatePlaying) }
func (s *Streamer) IsPaused() bool  { return s.stateIs(StatePaused) }
func (s *Streamer) IsWaiting() bool {
	return s.stateIs(StateWaitingForData) || s.stateIs(StateWaitingForQueueToStart)
}
func (s *Streamer) IsDone() bool { return s.stateIs(StateDone) || s.stateIs(StateStopped) }

func (s *Streamer) stateIs(st State) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observed.state == st
}

// DoneReason implements done_reason().
func (s *Streamer) DoneReason() DoneReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doneReasonLocked()
}

// LastError returns the error that triggered fail_with, if any.
func (s *Streamer) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.observed.lastErr == nil {
		return nil
	}
	return s.observed.lastErr
}

// The following snapshot helpers exist because format metadata
// (asbd/fileLength/dataOffset/totalAudioPackets) is written only by the
// run loop but read by query methods from arbitrary goroutines; each is a
// single small field read guarded by s.mu, avoiding a second duplicate
// copy of the whole observed struct.

func (s *Streamer) asbdSnapshot() (a asbdFields) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return asbdFields{SampleRate: s.asbd.SampleRate, FramesPerPacket: s.asbd.FramesPerPacket}
}

type asbdFields struct {
	SampleRate      int
	FramesPerPacket int
}

func (s *Streamer) sampleRateSnapshot() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.asbd.SampleRate
}

func (s *Streamer) fileLengthSnapshot() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fileLength
}

func (s *Streamer) dataOffsetSnapshot() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataOffset
}

func (s *Streamer) totalAudioPacketsSnapshot() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.totalAudioPacketsKnown {
		return bitrate.Sentinel
	}
	return s.totalAudioPackets
}

func (s *Streamer) seekTimeSnapshot() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seekTime
}
