package streamer

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/streamcore/internal/bitrate"
	"github.com/tphakala/streamcore/internal/conf"
	"github.com/tphakala/streamcore/internal/parser"
)

// bareStreamer builds a Streamer with just enough run-loop-owned state to
// drive the pure dispatch methods in wiring.go directly, without Start()'s
// real HTTP/malgo side effects.
func bareStreamer() *Streamer {
	s := &Streamer{
		id:       "test",
		logger:   slog.Default(),
		settings: conf.Defaults(),
	}
	s.sourceGate = newGate()
	s.queue = newQueueAdapter(nil)
	return s
}

func TestStreamer_SetPauseGate_IncsAndDecsSourceGate(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.setPauseGate(true)
	assert.True(t, s.sourceGate.blocked())

	s.setPauseGate(false)
	assert.False(t, s.sourceGate.blocked())
}

func TestStreamer_OnBufferFullHook_UnschedulesOnce(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.onBufferFullHook()
	assert.True(t, s.unscheduled)
	assert.True(t, s.sourceGate.blocked())

	s.onBufferFullHook() // already unscheduled: must not double-inc the gate
	s.unscheduled = false
	assert.True(t, s.sourceGate.blocked(), "gate must still be closed from the first inc")
}

func TestStreamer_OnBufferFullHook_NoopWhenBufferInfinite(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.settings.BufferInfinite = true
	s.onBufferFullHook()

	assert.False(t, s.unscheduled)
	assert.False(t, s.sourceGate.blocked())
}

func TestStreamer_OnWarmedUp_StartsQueueOnlyWhileWaitingForData(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.observed.state = StateWaitingForData
	s.onWarmedUp()

	assert.True(t, s.queueStarted)
	s.mu.RLock()
	assert.Equal(t, StateWaitingForQueueToStart, s.observed.state)
	s.mu.RUnlock()
}

func TestStreamer_OnWarmedUp_NoopOutsideWaitingForData(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.observed.state = StatePlaying
	s.onWarmedUp()

	assert.False(t, s.queueStarted)
}

func TestStreamer_OnIsRunningChanged_TrueWhileWaitingForQueueToStart_TransitionsPlaying(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.observed.state = StateWaitingForQueueToStart
	s.onIsRunningChanged(true)

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, StatePlaying, s.observed.state)
}

func TestStreamer_OnIsRunningChanged_TrueIgnoredOutsideWaitingForQueueToStart(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.observed.state = StatePlaying
	s.onIsRunningChanged(true)

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, StatePlaying, s.observed.state)
}

func TestStreamer_OnIsRunningChanged_FalseDuringSeekIsIgnored(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.observed.state = StatePlaying
	s.queueStarted = true
	s.seeking = true
	s.onIsRunningChanged(false)

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, StatePlaying, s.observed.state, "a seek's own teardown already handles this device stop")
}

func TestStreamer_OnIsRunningChanged_FalseBeforeQueueStartedIsIgnored(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.observed.state = StateWaitingForQueueToStart
	s.queueStarted = false
	s.onIsRunningChanged(false)

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, StateWaitingForQueueToStart, s.observed.state)
}

func TestStreamer_OnIsRunningChanged_FalseAfterRealStartStopsStream(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.observed.state = StatePlaying
	s.queueStarted = true
	s.onIsRunningChanged(false)

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, StateDone, s.observed.state)
	assert.Equal(t, DoneReasonEOF, s.doneReasonLocked())
}

func TestStreamer_OnEndEncountered_NoDataAndNoSeek_FailsAudioDataNotFound(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.observed.state = StateWaitingForData
	s.onEndEncountered()

	assert.True(t, s.sourceAtEOF)
	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, StateDone, s.observed.state)
	require.NotNil(t, s.observed.lastErr)
	assert.Contains(t, s.observed.lastErr.Error(), "no audio data received before end of stream")
}

func TestStreamer_OnParserPacket_ProbeMode_NeverCreatesQueueAndStopsOnBitrateReady(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.probeMode = true
	s.observed.state = StateWaitingForData
	s.acc = bitrate.New(44100, 1152, 128, false)

	s.onParserPacket(parser.PacketEvent{
		VBR:     false,
		Packets: []parser.Packet{{Data: []byte{0, 1, 2, 3}}},
	})

	assert.False(t, s.queueCreated, "probe mode must never call create_queue")
	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, StateStopped, s.observed.state)
	assert.Equal(t, DoneReasonStopped, s.doneReasonLocked())
}

func TestStreamer_OnParserPacket_ProbeMode_VBRAccumulatesUntilReady(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.probeMode = true
	s.observed.state = StateWaitingForData
	s.acc = bitrate.New(44100, 1152, 0, true)

	// A single VBR packet isn't enough to make the accumulator ready, so
	// the stream must still be running.
	s.onParserPacket(parser.PacketEvent{
		VBR:     true,
		Packets: []parser.Packet{{Data: []byte{0, 1}, Desc: parser.PacketDescriptor{ByteSize: 2}}},
	})
	s.mu.RLock()
	stillRunning := s.observed.state == StateWaitingForData
	s.mu.RUnlock()
	assert.True(t, stillRunning, "one VBR packet must not be enough to report ready")
	assert.False(t, s.queueCreated)
}

func TestStreamer_OnEndEncountered_NoDataButMidSeek_StopsCleanlyAsEOF(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.observed.state = StateWaitingForData
	s.seekByteOffset = 12345
	s.onEndEncountered()

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, StateDone, s.observed.state)
	assert.Nil(t, s.observed.lastErr)
	assert.Equal(t, DoneReasonEOF, s.doneReasonLocked())
}
