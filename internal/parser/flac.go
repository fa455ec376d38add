package parser

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/tphakala/flac"
	"github.com/tphakala/flac/frame"

	"github.com/tphakala/streamcore/internal/conf"
	"github.com/tphakala/streamcore/internal/errors"
)

// flacParser is the one place this package decodes to PCM rather than just
// passing bytes through: malgo (internal/audioqueue) only plays raw PCM, and
// unlike the generic adapter's codecs there is a real, pack-available FLAC
// decoder to reach for. ParseBytes feeds an io.Pipe; a dedicated goroutine
// runs tphakala/flac's frame-at-a-time decoder against the read end and
// invokes the packet callback from there. That means, uniquely among these
// adapters, flacParser's callbacks fire off the Streamer's own goroutine —
// the same cross-goroutine shape the Audio Queue Adapter's malgo callback
// already has, and the Streamer's message loop marshals both identically.
type flacParser struct {
	cb         Callbacks
	bufferSize int

	pw   *io.PipeWriter
	pr   *io.PipeReader
	done chan struct{}

	mu      sync.Mutex
	decErr  error
	written int64
}

func newFLACParser(bufferSize int, cb Callbacks) *flacParser {
	pr, pw := io.Pipe()
	p := &flacParser{cb: cb, bufferSize: bufferSize, pr: pr, pw: pw, done: make(chan struct{})}
	go p.decodeLoop()
	return p
}

func (p *flacParser) ParseBytes(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := p.pw.Write(data); err != nil {
		if decErr := p.getErr(); decErr != nil {
			return errors.Wrap(decErr).
				Component("parser").
				Category(errors.CategoryParse).
				Build()
		}
		return errors.Wrap(err).
			Component("parser").
			Category(errors.CategoryParse).
			Build()
	}
	return nil
}

func (p *flacParser) decodeLoop() {
	defer close(p.done)

	stream, err := flac.New(p.pr)
	if err != nil {
		if err != io.EOF { // io.EOF: closed before any byte arrived
			p.setErr(err)
		}
		p.pr.CloseWithError(err)
		return
	}

	bytesPerSample := int(stream.Info.BitsPerSample) / 8
	if bytesPerSample <= 0 {
		bytesPerSample = 2
	}
	numChannels := int(stream.Info.NChannels)
	if numChannels <= 0 {
		numChannels = 2
	}

	if p.cb.OnProperty != nil {
		p.cb.OnProperty(PropertyEvent{Kind: PropDataOffset, DataOffset: 0})
		p.cb.OnProperty(PropertyEvent{Kind: PropASBD, ASBD: ASBD{
			SampleRate:      int(stream.Info.SampleRate),
			Channels:        numChannels,
			FramesPerPacket: 1,
			BytesPerPacket:  bytesPerSample * numChannels,
			FormatID:        conf.FileTypeFLAC,
		}})
		p.cb.OnProperty(PropertyEvent{Kind: PropReadyToProduce})
	}

	var pending []byte
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.setErr(err)
			break
		}

		pending = append(pending, interleavePCM(f, bytesPerSample)...)
		for len(pending) >= p.bufferSize {
			chunk := pending[:p.bufferSize]
			pending = pending[p.bufferSize:]
			p.emit(chunk)
		}
	}
	if len(pending) > 0 {
		p.emit(pending)
	}
	p.pr.CloseWithError(io.EOF)
}

// interleavePCM turns a decoded FLAC frame's per-channel subframe samples
// (already un-decorrelated by the decoder, regardless of the frame's
// mid-side/left-side/right-side channel assignment) into little-endian
// interleaved PCM bytes, the layout malgo's playback device expects.
func interleavePCM(f *frame.Frame, bytesPerSample int) []byte {
	if len(f.Subframes) == 0 {
		return nil
	}
	nSamples := len(f.Subframes[0].Samples)
	nChannels := len(f.Subframes)
	out := make([]byte, 0, nSamples*nChannels*bytesPerSample)

	for i := 0; i < nSamples; i++ {
		for ch := 0; ch < nChannels; ch++ {
			sample := f.Subframes[ch].Samples[i]
			switch bytesPerSample {
			case 1:
				out = append(out, byte(sample))
			case 2:
				var b [2]byte
				binary.LittleEndian.PutUint16(b[:], uint16(int16(sample)))
				out = append(out, b[:]...)
			default: // 3 or 4 bytes per sample
				var b [4]byte
				binary.LittleEndian.PutUint32(b[:], uint32(sample))
				out = append(out, b[:bytesPerSample]...)
			}
		}
	}
	return out
}

func (p *flacParser) emit(chunk []byte) {
	if p.cb.OnPacket == nil {
		return
	}
	start := p.written
	p.written += int64(len(chunk))
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	p.cb.OnPacket(PacketEvent{
		VBR: false,
		Packets: []Packet{{
			Data: cp,
			Desc: PacketDescriptor{StartOffset: start, ByteSize: len(cp)},
		}},
	})
}

func (p *flacParser) setErr(err error) {
	p.mu.Lock()
	p.decErr = err
	p.mu.Unlock()
}

func (p *flacParser) getErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decErr
}

// SeekByPacket is unsupported: realigning a live decode mid-stream would
// need the STREAMINFO seek table against the new byte range, which this
// pipe-fed decoder doesn't have available. The Streamer falls back to the
// naive proportional seek (spec.md §4.7 step 4), same as the generic
// adapter.
func (p *flacParser) SeekByPacket(packet int64) (int64, bool) {
	return 0, false
}

func (p *flacParser) MagicCookie() []byte { return nil }

func (p *flacParser) Close() error {
	p.pw.CloseWithError(io.EOF)
	<-p.done
	return p.getErr()
}
