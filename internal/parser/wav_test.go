package parser

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildWAVHeader assembles a minimal canonical RIFF/WAVE/fmt/data header
// around pcm, mirroring what any real encoder would emit for 16-bit PCM.
func buildWAVHeader(sampleRate, numChannels, bitsPerSample int, pcm []byte) []byte {
	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := make([]byte, 0, 44+len(pcm))
	buf = append(buf, "RIFF"...)
	buf = append(buf, le32(uint32(36+len(pcm)))...)
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	buf = append(buf, le32(16)...)
	buf = append(buf, le16(1)...) // PCM
	buf = append(buf, le16(uint16(numChannels))...)
	buf = append(buf, le32(uint32(sampleRate))...)
	buf = append(buf, le32(uint32(byteRate))...)
	buf = append(buf, le16(uint16(blockAlign))...)
	buf = append(buf, le16(uint16(bitsPerSample))...)

	buf = append(buf, "data"...)
	buf = append(buf, le32(uint32(len(pcm)))...)
	buf = append(buf, pcm...)
	return buf
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func TestWAVParser_AnnouncesFormatOnceHeaderComplete(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 16)
	wav := buildWAVHeader(44100, 2, 16, pcm)

	var events []PropertyEvent
	p := newWAVParser(1024, Callbacks{OnProperty: func(ev PropertyEvent) { events = append(events, ev) }})
	require.NoError(t, p.ParseBytes(wav))

	require.Len(t, events, 4)
	assert.Equal(t, PropDataOffset, events[0].Kind)
	assert.Equal(t, int64(44), events[0].DataOffset)
	assert.Equal(t, PropAudioDataByteCount, events[1].Kind)
	assert.Equal(t, int64(16), events[1].AudioDataByteCount)
	assert.Equal(t, PropASBD, events[2].Kind)
	assert.Equal(t, 44100, events[2].ASBD.SampleRate)
	assert.Equal(t, 2, events[2].ASBD.Channels)
	assert.Equal(t, 4, events[2].ASBD.BytesPerPacket, "block align for 16-bit stereo")
	assert.Equal(t, PropReadyToProduce, events[3].Kind)
}

func TestWAVParser_HeaderSplitAcrossMultipleCalls(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 8)
	wav := buildWAVHeader(8000, 1, 16, pcm)

	var ready bool
	p := newWAVParser(1024, Callbacks{OnProperty: func(ev PropertyEvent) {
		if ev.Kind == PropReadyToProduce {
			ready = true
		}
	}})

	require.NoError(t, p.ParseBytes(wav[:20]))
	assert.False(t, ready, "fmt chunk isn't fully available yet")
	require.NoError(t, p.ParseBytes(wav[20:]))
	assert.True(t, ready)
}

func TestWAVParser_FlushesBlockAlignedPacketsAtBufferSize(t *testing.T) {
	t.Parallel()

	// blockAlign=4 (stereo 16-bit); bufferSize=10 isn't a multiple of 4, so
	// flushFullPackets must round down to 8.
	pcm := make([]byte, 24)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	wav := buildWAVHeader(44100, 2, 16, pcm)

	var packets []PacketEvent
	p := newWAVParser(10, Callbacks{OnPacket: func(ev PacketEvent) { packets = append(packets, ev) }})
	require.NoError(t, p.ParseBytes(wav))

	require.Len(t, packets, 3, "24 bytes / 8-byte aligned packets = 3")
	for _, pkt := range packets {
		assert.Len(t, pkt.Packets[0].Data, 8)
		assert.False(t, pkt.VBR)
	}
	assert.Equal(t, int64(0), packets[0].Packets[0].Desc.StartOffset)
	assert.Equal(t, int64(8), packets[1].Packets[0].Desc.StartOffset)
	assert.Equal(t, int64(16), packets[2].Packets[0].Desc.StartOffset)
}

func TestWAVParser_PendingBytesCarryAcrossParseBytesCalls(t *testing.T) {
	t.Parallel()

	wav := buildWAVHeader(44100, 1, 16, nil) // blockAlign=2

	var packets []PacketEvent
	p := newWAVParser(4, Callbacks{OnPacket: func(ev PacketEvent) { packets = append(packets, ev) }})
	require.NoError(t, p.ParseBytes(wav))
	require.NoError(t, p.ParseBytes([]byte{1, 2, 3}))
	assert.Empty(t, packets, "3 bytes doesn't reach the 4-byte block-aligned packet size")

	require.NoError(t, p.ParseBytes([]byte{4}))
	require.Len(t, packets, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, packets[0].Packets[0].Data)
}

func TestWAVParser_SeekByPacket_ComputesBlockAlignedOffset(t *testing.T) {
	t.Parallel()

	wav := buildWAVHeader(44100, 2, 16, make([]byte, 32))
	p := newWAVParser(10, Callbacks{})
	require.NoError(t, p.ParseBytes(wav))

	offset, ok := p.SeekByPacket(2)
	require.True(t, ok)
	assert.Equal(t, int64(44+2*8), offset)
}

func TestWAVParser_SeekByPacket_UnsupportedBeforeHeaderParsed(t *testing.T) {
	t.Parallel()

	p := newWAVParser(10, Callbacks{})
	_, ok := p.SeekByPacket(0)
	assert.False(t, ok)
}

func TestWAVParser_MagicCookieAndCloseAreNoops(t *testing.T) {
	t.Parallel()

	p := newWAVParser(1024, Callbacks{})
	assert.Nil(t, p.MagicCookie())
	assert.NoError(t, p.Close())
}
