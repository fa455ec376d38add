package streamer

import (
	"github.com/tphakala/streamcore/internal/bitrate"
	"github.com/tphakala/streamcore/internal/errors"
)

// runTotalPacketsDiscovery implements the bisection of spec.md §4.8: probe
// the parser's SeekByPacket at the midpoint of a shrinking [0, 1_000_000]
// window until it narrows to one packet index whose seek succeeded, then
// realign the parser back to packet 0. Runs once per parser instance — a
// Shoutcast reset (resetForSniff) clears discoveryDone so it runs again for
// the reopened format. Parsers that don't support packet-granular seeking
// (generic, flac) always report ok=false, so the loop degenerates to
// leaving total_audio_packets unknown, which is the documented fallback
// (spec.md §4.11 tier 3).
func (s *Streamer) runTotalPacketsDiscovery() {
	if s.discoveryDone || s.prs == nil {
		return
	}
	s.discoveryDone = true

	lo, hi := int64(0), int64(bitrate.Sentinel)
	lastGood := int64(-1)
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if _, ok := s.prs.SeekByPacket(mid); ok {
			lastGood = mid
			lo = mid
		} else {
			hi = mid
		}
	}

	s.mu.Lock()
	if lastGood >= 0 {
		s.totalAudioPackets = lastGood + 1
		s.totalAudioPacketsKnown = true
	} else {
		s.totalAudioPackets = bitrate.Sentinel
		s.totalAudioPacketsKnown = false
	}
	s.mu.Unlock()

	if off, ok := s.prs.SeekByPacket(0); ok {
		s.seekByteOffset = off
	}
}

// doSeekToTime implements the 8-step seek protocol of spec.md §4.7:
// require a known bitrate and duration, compute a naive byte offset,
// clamp it inside the file, best-effort packet-align it through the
// parser, tear down the Byte Source and audio queue, and reopen at the new
// offset. The seeking flag guards onIsRunningChanged against reading the
// queue's transient Stop() during teardown as a natural Done.
func (s *Streamer) doSeekToTime(t float64) bool {
	if s.prs == nil || s.acc == nil {
		return false
	}
	if t < 0 {
		t = 0
	}

	bps, ok := s.acc.BitRate()
	if !ok || bps <= 0 {
		return false
	}
	dur, ok := bitrate.Duration(-1, false, s.totalAudioPacketsUnlocked(), s.asbd.FramesPerPacket, s.asbd.SampleRate, s.fileLength, s.dataOffset, bps)
	if !ok || dur <= 0 {
		return false
	}
	if t > dur {
		t = dur
	}

	offset := s.dataOffset + int64(t*bps/8)
	if maxOffset := s.fileLength - 2*int64(s.packetBufferSize); maxOffset > s.dataOffset && offset > maxOffset {
		offset = maxOffset
	}
	if offset < s.dataOffset {
		offset = s.dataOffset
	}

	if s.asbd.SampleRate > 0 && s.asbd.FramesPerPacket > 0 {
		packetDuration := float64(s.asbd.FramesPerPacket) / float64(s.asbd.SampleRate)
		if packetDuration > 0 {
			if aligned, ok := s.prs.SeekByPacket(int64(t / packetDuration)); ok {
				offset = aligned
			}
		}
	}

	s.seeking = true
	if s.queueCreated {
		if err := s.queue.Stop(); err != nil {
			s.seeking = false
			s.failWith(KindAudioQueueStopFailed, errors.CategoryAudio, err, "stop_audio_queue failed")
			return false
		}
		s.queueStarted = false
	}
	s.teardown()

	s.mu.Lock()
	s.seekTime = t
	s.observed.lastProgress = t
	s.mu.Unlock()
	s.seekByteOffset = offset

	s.openByteSource(offset, true)
	s.seeking = false

	s.mu.RLock()
	terminal := s.observed.state.terminal()
	s.mu.RUnlock()
	if !terminal {
		s.setState(StateWaitingForData, "seek")
	}
	return true
}

// doSeekByDelta implements seek_by_delta(dt): delegates to doSeekToTime at
// progress() + dt.
func (s *Streamer) doSeekByDelta(dt float64) bool {
	p, ok := s.Progress()
	if !ok {
		return false
	}
	return s.doSeekToTime(p + dt)
}

func (s *Streamer) totalAudioPacketsUnlocked() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.totalAudioPacketsKnown {
		return bitrate.Sentinel
	}
	return s.totalAudioPackets
}
