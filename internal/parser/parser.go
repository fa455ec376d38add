// Package parser adapts container/codec framing to the Streamer's packet
// callback contract (spec.md §3/§4). Real frame-accurate parsing for any
// given audio container is explicitly out of scope for the streaming core
// (spec.md §1: "The format parser itself ... specified only by the
// callback contract it offers the core") — these adapters exist to honor
// that contract, not to be production-grade demuxers.
package parser

import (
	"github.com/tphakala/streamcore/internal/conf"
)

// ASBD is an Audio Stream Basic Description: the minimal set of fields the
// Streamer and Audio Queue Adapter need to configure playback and estimate
// bitrate.
type ASBD struct {
	SampleRate      int
	Channels        int
	FramesPerPacket int
	BytesPerPacket  int // 0 => VBR
	FormatID        conf.FileType
}

// PacketDescriptor locates one packet's bytes within the buffer it was
// written into (spec.md §3, Buffer Pool: packet_descs).
type PacketDescriptor struct {
	StartOffset int64
	ByteSize    int
}

// Packet is one unit handed from the parser to the Streamer. Desc locates
// the packet's bytes; the WAV and FLAC adapters fill it in for their CBR
// packets too.
type Packet struct {
	Data []byte
	Desc PacketDescriptor
}

// PropertyKind distinguishes which field of a PropertyEvent is meaningful.
type PropertyKind int

const (
	PropDataOffset PropertyKind = iota
	PropAudioDataByteCount
	PropASBD
	PropReadyToProduce
)

// PropertyEvent mirrors the Format Parser's property-change callbacks
// (spec.md §4: data offset, byte count, ASBD, ready-to-produce).
type PropertyEvent struct {
	Kind               PropertyKind
	DataOffset         int64
	AudioDataByteCount int64
	ASBD               ASBD
	MagicCookie        []byte
}

// PacketEvent mirrors the Format Parser's packet callback: VBR delivers N
// packets with descriptors, CBR delivers one packet of raw bytes.
type PacketEvent struct {
	VBR     bool
	Packets []Packet
}

// Callbacks are invoked synchronously from inside ParseBytes, on whatever
// goroutine calls it (the Streamer's single dedicated goroutine, per
// SPEC_FULL.md §5). The FLAC adapter is the exception: it invokes them from
// its own decode goroutine.
type Callbacks struct {
	OnProperty func(PropertyEvent)
	OnPacket   func(PacketEvent)
}

// Parser accepts raw bytes and emits the callback contract above.
// Implementations must not block; ParseBytes is called from the Streamer's
// run loop.
type Parser interface {
	// ParseBytes feeds newly arrived bytes.
	ParseBytes(data []byte) error

	// SeekByPacket realigns the parser to start at the given packet index,
	// returning the byte offset (relative to the resource start, i.e.
	// inclusive of data_offset) where that packet's bytes begin. ok is
	// false when the container can't honor packet-granular seeking.
	SeekByPacket(packet int64) (byteOffset int64, ok bool)

	// MagicCookie returns opaque codec-configuration bytes, or nil.
	MagicCookie() []byte

	// Close releases any resources held by the parser.
	Close() error
}

// New constructs the parser appropriate for fileType. bufferSize is the
// configured buffer_size (spec.md §3), used as the packet_buffer_size
// fallback for containers with no better upper bound.
func New(fileType conf.FileType, bufferSize int, cb Callbacks) Parser {
	switch fileType {
	case conf.FileTypeWAV:
		return newWAVParser(bufferSize, cb)
	case conf.FileTypeFLAC:
		return newFLACParser(bufferSize, cb)
	default:
		// MP3, AIFF, M4A, MPEG4, CAF, AAC-ADTS: see generic.go.
		return newGenericParser(fileType, bufferSize, cb)
	}
}
