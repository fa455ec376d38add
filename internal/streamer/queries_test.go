package streamer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/streamcore/internal/bitrate"
	"github.com/tphakala/streamcore/internal/errors"
)

func TestStreamer_Progress_FalseBeforeStart(t *testing.T) {
	t.Parallel()

	s := &Streamer{}
	_, ok := s.Progress()
	assert.False(t, ok)
}

func TestStreamer_Progress_CombinesSeekTimeAndQueueSampleTime(t *testing.T) {
	t.Parallel()

	s := &Streamer{queue: newQueueAdapter(nil)}
	s.observed.started = true
	s.observed.state = StatePlaying
	s.asbd.SampleRate = 44100
	s.seekTime = 2.0

	p, ok := s.Progress()
	require.True(t, ok)
	assert.Equal(t, 2.0, p, "queue has no real device: SampleTime() is 0")
}

func TestStreamer_Progress_ReturnsLastKnownValueWhenStopped(t *testing.T) {
	t.Parallel()

	s := &Streamer{queue: newQueueAdapter(nil)}
	s.observed.started = true
	s.observed.state = StateStopped
	s.observed.lastProgress = 7.5
	s.asbd.SampleRate = 44100

	p, ok := s.Progress()
	require.True(t, ok)
	assert.Equal(t, 7.5, p)
}

func TestStreamer_Duration_FalseBeforeStart(t *testing.T) {
	t.Parallel()

	s := &Streamer{}
	_, ok := s.Duration()
	assert.False(t, ok)
}

func TestStreamer_Duration_FallsBackToFileLengthOverBitrateTier(t *testing.T) {
	t.Parallel()

	s := &Streamer{}
	s.observed.started = true
	s.acc = bitrate.New(44100, 1152, 128, false)
	s.acc.MarkCBRReady()
	s.totalAudioPacketsKnown = false
	s.fileLength = 1_000_000
	s.dataOffset = 44

	seconds, ok := s.Duration()
	require.True(t, ok)
	assert.Greater(t, seconds, 0.0)
}

func TestStreamer_CalculatedBitRate_FalseWithoutAccumulator(t *testing.T) {
	t.Parallel()

	s := &Streamer{}
	_, ok := s.CalculatedBitRate()
	assert.False(t, ok)
}

func TestStreamer_CalculatedBitRate_TrueOnceCBRReady(t *testing.T) {
	t.Parallel()

	s := &Streamer{acc: bitrate.New(44100, 1152, 128, false)}
	s.acc.MarkCBRReady()

	bps, ok := s.CalculatedBitRate()
	require.True(t, ok)
	assert.Greater(t, bps, 0.0)
}

func TestStreamer_StatePredicates(t *testing.T) {
	t.Parallel()

	s := &Streamer{}
	s.observed.state = StatePlaying
	assert.True(t, s.IsPlaying())
	assert.False(t, s.IsPaused())
	assert.False(t, s.IsWaiting())
	assert.False(t, s.IsDone())

	s.observed.state = StatePaused
	assert.True(t, s.IsPaused())

	s.observed.state = StateWaitingForData
	assert.True(t, s.IsWaiting())

	s.observed.state = StateWaitingForQueueToStart
	assert.True(t, s.IsWaiting())

	s.observed.state = StateDone
	assert.True(t, s.IsDone())

	s.observed.state = StateStopped
	assert.True(t, s.IsDone())
}

func TestStreamer_LastError_NilUntilSet(t *testing.T) {
	t.Parallel()

	s := &Streamer{}
	assert.Nil(t, s.LastError())

	s.observed.lastErr = errors.New(errors.NewStd("boom")).Build()
	require.NotNil(t, s.LastError())
	assert.Contains(t, s.LastError().Error(), "boom")
}

func TestDoSeekToTime_FalseWithoutParser(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.acc = bitrate.New(44100, 1152, 128, false)
	s.acc.MarkCBRReady()
	assert.False(t, s.doSeekToTime(10))
}

func TestDoSeekToTime_FalseWithoutAccumulator(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.prs = &seekableParser{maxOK: 100}
	assert.False(t, s.doSeekToTime(10))
}

func TestDoSeekToTime_FalseBeforeBitrateIsReady(t *testing.T) {
	t.Parallel()

	s := bareStreamer()
	s.prs = &seekableParser{maxOK: 100}
	s.acc = bitrate.New(44100, 1152, 0, true) // vbr accumulator, vbrCount still 0
	assert.False(t, s.doSeekToTime(10))
}

func TestDoSeekByDelta_FalseWhenProgressUnavailable(t *testing.T) {
	t.Parallel()

	s := &Streamer{}
	assert.False(t, s.doSeekByDelta(5))
}
