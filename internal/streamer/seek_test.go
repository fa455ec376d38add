package streamer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/streamcore/internal/bitrate"
)

// seekableParser reports SeekByPacket ok for every packet index up to and
// including maxOK, mirroring a container whose total packet count is
// maxOK+1.
type seekableParser struct {
	maxOK       int64
	neverOK     bool
	seekOffsets map[int64]int64
}

func (p *seekableParser) ParseBytes(data []byte) error { return nil }

func (p *seekableParser) SeekByPacket(packet int64) (int64, bool) {
	if p.neverOK {
		return 0, false
	}
	if packet > p.maxOK {
		return 0, false
	}
	if off, ok := p.seekOffsets[packet]; ok {
		return off, true
	}
	return packet * 100, true
}

func (p *seekableParser) MagicCookie() []byte { return nil }
func (p *seekableParser) Close() error        { return nil }

func TestRunTotalPacketsDiscovery_FindsExactThreshold(t *testing.T) {
	t.Parallel()

	s := &Streamer{prs: &seekableParser{maxOK: 4999}}
	s.runTotalPacketsDiscovery()

	assert.True(t, s.discoveryDone)
	assert.True(t, s.totalAudioPacketsKnown)
	assert.Equal(t, int64(5000), s.totalAudioPackets)
}

func TestRunTotalPacketsDiscovery_RealignsToPacketZero(t *testing.T) {
	t.Parallel()

	s := &Streamer{prs: &seekableParser{maxOK: 10, seekOffsets: map[int64]int64{0: 1234}}}
	s.runTotalPacketsDiscovery()

	assert.Equal(t, int64(1234), s.seekByteOffset)
}

func TestRunTotalPacketsDiscovery_NoSeekSupportLeavesUnknown(t *testing.T) {
	t.Parallel()

	s := &Streamer{prs: &seekableParser{neverOK: true}}
	s.runTotalPacketsDiscovery()

	assert.True(t, s.discoveryDone)
	assert.False(t, s.totalAudioPacketsKnown)
	assert.Equal(t, int64(bitrate.Sentinel), s.totalAudioPackets)
	assert.Equal(t, int64(0), s.seekByteOffset, "seekByteOffset untouched when packet 0 isn't seekable either")
}

func TestRunTotalPacketsDiscovery_RunsOnlyOnce(t *testing.T) {
	t.Parallel()

	p := &seekableParser{maxOK: 10}
	s := &Streamer{prs: p}
	s.runTotalPacketsDiscovery()
	require.True(t, s.discoveryDone)

	s.totalAudioPackets = 42
	s.totalAudioPacketsKnown = true
	s.runTotalPacketsDiscovery()
	assert.Equal(t, int64(42), s.totalAudioPackets, "already discovered: must not recompute")
}

func TestRunTotalPacketsDiscovery_NilParserLeavesDiscoveryUndone(t *testing.T) {
	t.Parallel()

	s := &Streamer{}
	s.runTotalPacketsDiscovery()
	assert.False(t, s.discoveryDone, "no parser yet: discovery hasn't actually run")
}
