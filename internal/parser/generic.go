package parser

import (
	"github.com/tphakala/streamcore/internal/conf"
	"github.com/tphakala/streamcore/internal/errors"
)

// nominalASBD returns a plausible ASBD for containers the streaming core
// does not actually demux (spec.md §1 places real frame parsing for these
// formats out of scope). The values are only used to make the bitrate and
// duration estimators (§4.11) produce sane numbers from packet sizes that
// arrive from the network in whatever chunking the Byte Source used.
func nominalASBD(t conf.FileType) ASBD {
	switch t {
	case conf.FileTypeAACADTS:
		return ASBD{SampleRate: 44100, Channels: 2, FramesPerPacket: 1024, FormatID: t}
	case conf.FileTypeAIFF:
		return ASBD{SampleRate: 44100, Channels: 2, FramesPerPacket: 1, BytesPerPacket: 4, FormatID: t}
	case conf.FileTypeM4A, conf.FileTypeMPEG4, conf.FileTypeCAF:
		return ASBD{SampleRate: 44100, Channels: 2, FramesPerPacket: 1024, FormatID: t}
	default: // MP3 and anything unrecognized
		return ASBD{SampleRate: 44100, Channels: 2, FramesPerPacket: 1152, FormatID: t}
	}
}

// genericParser treats every ParseBytes call as exactly one VBR packet.
// This honors the packet callback contract (spec.md §4) without attempting
// real container demuxing, which spec.md §1 explicitly places outside the
// streaming core's scope.
type genericParser struct {
	cb           Callbacks
	bufferSize   int
	fileType     conf.FileType
	announced    bool
	dataOffset   int64
	bytesWritten int64
}

func newGenericParser(fileType conf.FileType, bufferSize int, cb Callbacks) *genericParser {
	return &genericParser{cb: cb, bufferSize: bufferSize, fileType: fileType}
}

func (p *genericParser) ParseBytes(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if !p.announced {
		p.announced = true
		if p.cb.OnProperty != nil {
			p.cb.OnProperty(PropertyEvent{Kind: PropDataOffset, DataOffset: 0})
			p.cb.OnProperty(PropertyEvent{Kind: PropASBD, ASBD: nominalASBD(p.fileType)})
			p.cb.OnProperty(PropertyEvent{Kind: PropReadyToProduce})
		}
	}

	if len(data) > p.bufferSize {
		return errors.Newf("generic parser: packet of %d bytes exceeds buffer size %d", len(data), p.bufferSize).
			Component("parser").
			Category(errors.CategoryParse).
			Build()
	}

	desc := PacketDescriptor{StartOffset: p.bytesWritten, ByteSize: len(data)}
	p.bytesWritten += int64(len(data))

	if p.cb.OnPacket != nil {
		p.cb.OnPacket(PacketEvent{
			VBR:     true,
			Packets: []Packet{{Data: data, Desc: desc}},
		})
	}
	return nil
}

// SeekByPacket is unsupported: without real frame parsing there is no
// packet index to seek to, so the Streamer falls back to the naive
// time-proportional byte offset (spec.md §4.7 step 4).
func (p *genericParser) SeekByPacket(packet int64) (int64, bool) {
	return 0, false
}

func (p *genericParser) MagicCookie() []byte { return nil }

func (p *genericParser) Close() error { return nil }
