// Package bufferpool implements the fixed-size output buffer pool, its
// enqueue protocol, the packet-handling detour logic, and the Packet Queue
// of spec.md §3/§4.4/§4.5/§4.6.
package bufferpool

import (
	"github.com/tphakala/streamcore/internal/errors"
)

// PacketDescriptor locates one VBR packet's bytes within the buffer it was
// written into.
type PacketDescriptor struct {
	StartOffset int64
	ByteSize    int
}

// Pool is the fixed-size array of N output buffers described in spec.md
// §3: an in-use bitmap, a fill cursor, and a packet-descriptor scratch
// area for whichever buffer is currently being filled.
type Pool struct {
	n                int
	packetBufferSize int
	maxPacketDescs   int

	buffers [][]byte
	inuse   []bool

	fillIndex     int
	bytesFilled   int
	packetsFilled int
	descs         []PacketDescriptor

	buffersUsed int
}

// New allocates a Pool of n buffers, each packetBufferSize bytes, with
// room for up to maxPacketDescs VBR descriptors per fill cycle.
func New(n, packetBufferSize, maxPacketDescs int) *Pool {
	buffers := make([][]byte, n)
	for i := range buffers {
		buffers[i] = make([]byte, packetBufferSize)
	}
	return &Pool{
		n:                n,
		packetBufferSize: packetBufferSize,
		maxPacketDescs:   maxPacketDescs,
		buffers:          buffers,
		inuse:            make([]bool, n),
		descs:            make([]PacketDescriptor, 0, maxPacketDescs),
	}
}

func (p *Pool) N() int                { return p.n }
func (p *Pool) PacketBufferSize() int { return p.packetBufferSize }
func (p *Pool) BuffersUsed() int      { return p.buffersUsed }
func (p *Pool) FillIndex() int        { return p.fillIndex }
func (p *Pool) RemainingSpace() int   { return p.packetBufferSize - p.bytesFilled }
func (p *Pool) BytesFilled() int      { return p.bytesFilled }
func (p *Pool) PacketsFilled() int    { return p.packetsFilled }

// PacketsFilledAtMax reports whether packets_filled has reached
// MAX_PACKET_DESCS (VBR only).
func (p *Pool) PacketsFilledAtMax() bool { return p.packetsFilled >= p.maxPacketDescs }

// InUse reports invariant-checking state: |{i : inuse[i]}| (P1 support).
func (p *Pool) InUse(i int) bool { return p.inuse[i] }

// FillBufferBytes returns the bytes written into the current fill buffer so
// far. Valid to call from inside the submit callback passed to
// EnqueueBuffer, since submit runs before fill_index advances.
func (p *Pool) FillBufferBytes() []byte { return p.buffers[p.fillIndex][:p.bytesFilled] }

// WriteVBRPacket copies data into the current fill buffer at bytes_filled
// and records its descriptor. The caller must already have confirmed
// RemainingSpace() >= len(data).
func (p *Pool) WriteVBRPacket(data []byte) PacketDescriptor {
	start := p.bytesFilled
	copy(p.buffers[p.fillIndex][start:], data)
	p.bytesFilled += len(data)
	desc := PacketDescriptor{StartOffset: int64(start), ByteSize: len(data)}
	p.descs = append(p.descs, desc)
	p.packetsFilled++
	return desc
}

// WriteCBRBytes copies up to RemainingSpace() bytes of data into the
// current fill buffer and returns how many bytes were actually copied.
func (p *Pool) WriteCBRBytes(data []byte) int {
	n := len(data)
	if space := p.RemainingSpace(); n > space {
		n = space
	}
	copy(p.buffers[p.fillIndex][p.bytesFilled:], data[:n])
	p.bytesFilled += n
	return n
}

// EnqueueOutcome reports the Streamer-level signals enqueue_buffer()'s
// steps 3 and 6 depend on, since the decisions they drive (starting the
// audio queue, unscheduling the Byte Source) belong to state the pool
// itself doesn't own.
type EnqueueOutcome struct {
	// WarmedUp is true exactly when this enqueue just crossed the
	// queue-start threshold (N < 3 || buffers_used > 2); meaningful to the
	// Streamer only while still WaitingForData.
	WarmedUp bool
	// NextInUse is inuse[fill_index] after the cursor advanced: true means
	// the buffer that will be filled next is still rented out, so the
	// caller must stop feeding (step 6/7).
	NextInUse bool
}

// EnqueueBuffer implements enqueue_buffer() steps 1, 2, 4, 6, 7, 8
// (spec.md §4.4). submit hands the filled buffer to the audio queue
// (step 2); a non-nil error is step 8's submit failure, which the caller
// must treat as a stream failure.
func (p *Pool) EnqueueBuffer(submit func(bufIndex, bytesFilled int, vbr bool, descs []PacketDescriptor) error) (EnqueueOutcome, error) {
	idx := p.fillIndex
	if p.inuse[idx] {
		return EnqueueOutcome{}, errors.Newf("bufferpool: enqueue_buffer: buffer %d already in use", idx).
			Component("bufferpool").
			Category(errors.CategoryState).
			Build()
	}
	p.inuse[idx] = true
	p.buffersUsed++

	vbr := len(p.descs) > 0
	var descsCopy []PacketDescriptor
	if vbr {
		descsCopy = append([]PacketDescriptor(nil), p.descs...)
	}

	if err := submit(idx, p.bytesFilled, vbr, descsCopy); err != nil {
		p.inuse[idx] = false
		p.buffersUsed--
		return EnqueueOutcome{}, errors.Wrap(err).
			Component("bufferpool").
			Category(errors.CategoryAudio).
			Build()
	}

	warmedUp := p.n < 3 || p.buffersUsed > 2

	p.fillIndex = (p.fillIndex + 1) % p.n
	p.bytesFilled = 0
	p.packetsFilled = 0
	p.descs = p.descs[:0]

	return EnqueueOutcome{WarmedUp: warmedUp, NextInUse: p.inuse[p.fillIndex]}, nil
}

// ReleaseBuffer clears inuse[idx] on buffer-complete (spec.md §4.9
// on_buffer_complete).
func (p *Pool) ReleaseBuffer(idx int) {
	if !p.inuse[idx] {
		return
	}
	p.inuse[idx] = false
	p.buffersUsed--
}

// HasPendingBytes reports whether the current fill buffer holds any bytes
// not yet enqueued — used to decide whether EOF needs a flush of a
// partial buffer.
func (p *Pool) HasPendingBytes() bool { return p.bytesFilled > 0 }
