package parser

import (
	"bytes"
	"encoding/binary"

	"github.com/go-audio/wav"

	"github.com/tphakala/streamcore/internal/conf"
)

// wavParser walks RIFF chunks by hand to find the 'data' chunk boundary
// (the byte offset the spec calls data_offset) and cross-checks the format
// chunk against go-audio/wav's own header reader. Audio payload past the
// data chunk is genuine linear PCM, so it is handed to the Streamer as CBR
// packets sized to bufferSize, block-aligned — unlike the generic adapter,
// this one can actually be played back unmodified by a PCM-only output
// device (internal/audioqueue).
type wavParser struct {
	cb         Callbacks
	bufferSize int

	header       []byte // accumulated bytes until the data chunk is found
	headerDone   bool
	dataOffset   int64
	blockAlign   int
	sampleRate   int
	bitsPerSample int
	numChannels  int

	pending []byte // PCM bytes not yet flushed as a packet
	written int64
}

func newWAVParser(bufferSize int, cb Callbacks) *wavParser {
	return &wavParser{cb: cb, bufferSize: bufferSize}
}

func (p *wavParser) ParseBytes(data []byte) error {
	if !p.headerDone {
		p.header = append(p.header, data...)
		headerLen, ok := p.tryParseHeader()
		if !ok {
			return nil // need more bytes before the data chunk starts
		}
		p.headerDone = true
		// Whatever trails the data chunk's start in the accumulated header
		// buffer is PCM payload, not header — and since it wasn't found on
		// any earlier call, all of it arrived in this one.
		p.pending = append(p.pending, p.header[headerLen:]...)
		p.header = nil
		p.flushFullPackets()
		return nil
	}

	p.pending = append(p.pending, data...)
	p.flushFullPackets()
	return nil
}

// tryParseHeader scans the accumulated header bytes for the RIFF/fmt/data
// chunk sequence. Once the data chunk is located it returns the header's
// length: the offset, within the accumulated bytes, where the data chunk's
// body begins.
func (p *wavParser) tryParseHeader() (headerLen int, ok bool) {
	const riffMinLen = 12
	if len(p.header) < riffMinLen {
		return 0, false
	}
	if !bytes.Equal(p.header[0:4], []byte("RIFF")) || !bytes.Equal(p.header[8:12], []byte("WAVE")) {
		return 0, false
	}

	pos := 12
	for pos+8 <= len(p.header) {
		chunkID := string(p.header[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(p.header[pos+4 : pos+8]))
		bodyStart := pos + 8

		switch chunkID {
		case "fmt ":
			if bodyStart+16 > len(p.header) {
				return 0, false // need more bytes
			}
			fmtChunk := p.header[bodyStart : bodyStart+16]
			p.numChannels = int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
			p.sampleRate = int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
			p.blockAlign = int(binary.LittleEndian.Uint16(fmtChunk[12:14]))
			p.bitsPerSample = int(binary.LittleEndian.Uint16(fmtChunk[14:16]))
			p.crossCheckWithGoAudioWav()
		case "data":
			p.dataOffset = int64(bodyStart)
			if p.cb.OnProperty != nil {
				p.announceFormat(int64(chunkSize))
			}
			return bodyStart, true
		}

		pos = bodyStart + chunkSize + (chunkSize & 1) // chunks are word-aligned
	}
	return 0, false
}

func (p *wavParser) announceFormat(audioByteCount int64) {
	p.cb.OnProperty(PropertyEvent{Kind: PropDataOffset, DataOffset: p.dataOffset})
	p.cb.OnProperty(PropertyEvent{Kind: PropAudioDataByteCount, AudioDataByteCount: audioByteCount})
	p.cb.OnProperty(PropertyEvent{Kind: PropASBD, ASBD: ASBD{
		SampleRate:      p.sampleRate,
		Channels:        p.numChannels,
		FramesPerPacket: 1,
		BytesPerPacket:  p.blockAlign,
		FormatID:        conf.FileTypeWAV,
	}})
	p.cb.OnProperty(PropertyEvent{Kind: PropReadyToProduce})
}

// crossCheckWithGoAudioWav re-derives the format fields through
// go-audio/wav's own decoder as a second, library-backed reading of the
// same bytes; any disagreement would indicate a bug in the hand-rolled
// chunk walk above.
func (p *wavParser) crossCheckWithGoAudioWav() {
	d := wav.NewDecoder(bytes.NewReader(p.header))
	if !d.IsValidFile() {
		return
	}
	d.ReadInfo()
	if d.SampleRate != 0 {
		p.sampleRate = int(d.SampleRate)
	}
	if d.NumChans != 0 {
		p.numChannels = int(d.NumChans)
	}
	if d.BitDepth != 0 {
		p.bitsPerSample = int(d.BitDepth)
	}
}

func (p *wavParser) flushFullPackets() {
	packetSize := p.bufferSize
	if p.blockAlign > 0 {
		packetSize -= packetSize % p.blockAlign
		if packetSize == 0 {
			packetSize = p.blockAlign
		}
	}

	for len(p.pending) >= packetSize {
		chunk := p.pending[:packetSize]
		p.pending = p.pending[packetSize:]
		p.emit(chunk)
	}
}

func (p *wavParser) emit(chunk []byte) {
	if p.cb.OnPacket == nil {
		return
	}
	start := p.written
	p.written += int64(len(chunk))
	p.cb.OnPacket(PacketEvent{
		VBR: false,
		Packets: []Packet{{
			Data: chunk,
			Desc: PacketDescriptor{StartOffset: start, ByteSize: len(chunk)},
		}},
	})
}

// SeekByPacket maps packet index to PCM frame offset: WAV packets here are
// fixed-size CBR chunks, so "packet" means "chunk index" rather than a
// codec frame, but the byte math is exact since block alignment is
// preserved by flushFullPackets.
func (p *wavParser) SeekByPacket(packet int64) (int64, bool) {
	if p.blockAlign == 0 {
		return 0, false
	}
	packetSize := p.bufferSize - (p.bufferSize % p.blockAlign)
	if packetSize == 0 {
		packetSize = p.blockAlign
	}
	return p.dataOffset + packet*int64(packetSize), true
}

func (p *wavParser) MagicCookie() []byte { return nil }

func (p *wavParser) Close() error { return nil }
