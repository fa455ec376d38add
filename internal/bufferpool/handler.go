package bufferpool

import (
	"github.com/tphakala/streamcore/internal/bitrate"
	"github.com/tphakala/streamcore/internal/errors"
)

// Hooks are the Streamer-level side effects the packet handler can't
// decide on its own, since they depend on state (the current lifecycle
// State, the Byte Source's schedule) the pool doesn't own.
type Hooks struct {
	// Submit hands a filled buffer to the audio queue (enqueue_buffer
	// step 2).
	Submit func(bufIndex, bytesFilled int, vbr bool, descs []PacketDescriptor) error
	// OnWarmedUp fires once per enqueue that just crossed the queue-start
	// threshold (step 3); only meaningful to the caller while still
	// WaitingForData.
	OnWarmedUp func()
	// OnBufferFull fires when the buffer that will be filled next is
	// already rented out (step 6); the Streamer sets waiting_on_buffer
	// and unschedules the Byte Source unless buffer_infinite.
	OnBufferFull func()
	// OnBitrateReady fires once, the first moment calculated_bit_rate
	// becomes available.
	OnBitrateReady func()
	// SourceAtEOF reports whether the Byte Source has reached
	// end-of-stream, consulted for the async-flush decision (step 5).
	SourceAtEOF func() bool
	// FlushAsync is invoked when the Packet Queue is empty and the
	// source is at EOF right after an enqueue.
	FlushAsync func()
}

// Handler implements the VBR/CBR packet-handling detour logic of
// spec.md §4.5/§4.6 on top of a Pool and its Packet Queue.
type Handler struct {
	pool  *Pool
	queue Queue
	acc   *bitrate.Accumulator
	hooks Hooks

	waitingOnBuffer bool
}

// NewHandler wires a Handler to an existing Pool and bitrate Accumulator.
func NewHandler(pool *Pool, acc *bitrate.Accumulator, hooks Hooks) *Handler {
	return &Handler{pool: pool, acc: acc, hooks: hooks}
}

// WaitingOnBuffer reports waiting_on_buffer.
func (h *Handler) WaitingOnBuffer() bool { return h.waitingOnBuffer }

// QueueLen reports the Packet Queue's depth.
func (h *Handler) QueueLen() int { return h.queue.Len() }

// Pool exposes the underlying Pool for invariant checks and tests.
func (h *Handler) Pool() *Pool { return h.pool }

func (h *Handler) enqueue() (int, error) {
	outcome, err := h.pool.EnqueueBuffer(h.hooks.Submit)
	if err != nil {
		return -1, err
	}
	if outcome.WarmedUp && h.hooks.OnWarmedUp != nil {
		h.hooks.OnWarmedUp()
	}
	if h.queue.Empty() && h.hooks.SourceAtEOF != nil && h.hooks.SourceAtEOF() && h.hooks.FlushAsync != nil {
		h.hooks.FlushAsync()
	}
	if outcome.NextInUse {
		h.waitingOnBuffer = true
		if h.hooks.OnBufferFull != nil {
			h.hooks.OnBufferFull()
		}
		return 0, nil
	}
	return 1, nil
}

func (h *Handler) fireBitrateReadyIfNewlyReady(wasReady bool) {
	if !wasReady && h.acc.Ready() && h.hooks.OnBitrateReady != nil {
		h.hooks.OnBitrateReady()
	}
}

// HandleVBR implements handle_vbr(data, desc) (spec.md §4.5). consumed
// reports whether data was written into the current buffer — false only
// when enqueue_buffer itself reported the pool full (result 0) or failed
// (-1), meaning the caller must queue this packet for a later
// waiting_on_buffer drain rather than discard it. A flush that freed up
// room is retried inline, so the caller never sees consumed=false for a
// packet that actually has somewhere to go.
func (h *Handler) HandleVBR(data []byte, desc PacketDescriptor) (result int, consumed bool, err error) {
	if desc.ByteSize > h.pool.PacketBufferSize() {
		return -1, false, errors.Newf("bufferpool: vbr packet of %d bytes exceeds packet_buffer_size %d", desc.ByteSize, h.pool.PacketBufferSize()).
			Component("bufferpool").
			Category(errors.CategoryBuffer).
			Build()
	}

	if h.pool.RemainingSpace() < desc.ByteSize {
		r, e := h.enqueue()
		if e != nil {
			return -1, false, e
		}
		if r != 1 {
			return r, false, nil
		}
		// Fresh buffer has room: fall through and write this packet into it
		// now, the same way HandleCBR does, instead of leaving it to a
		// Packet Queue drain that only triggers once waiting_on_buffer is
		// set — which a successful, non-blocking flush never sets.
	}

	wasReady := h.acc.Ready()
	h.acc.AddVBRPacket(desc.ByteSize)
	h.fireBitrateReadyIfNewlyReady(wasReady)

	h.pool.WriteVBRPacket(data)

	if h.pool.PacketsFilledAtMax() {
		r, e := h.enqueue()
		return r, true, e
	}
	return 1, true, nil
}

// HandleCBR implements handle_cbr(data, byte_size, out copy_size).
func (h *Handler) HandleCBR(data []byte) (result int, copySize int, consumed bool, err error) {
	if h.pool.RemainingSpace() < len(data) {
		r, e := h.enqueue()
		if e != nil {
			return -1, 0, false, e
		}
		if r != 1 {
			return r, 0, false, nil
		}
	}

	cs := h.pool.WriteCBRBytes(data)
	wasReady := h.acc.Ready()
	h.acc.MarkCBRReady()
	h.fireBitrateReadyIfNewlyReady(wasReady)

	return 1, cs, true, nil
}

// FeedPackets implements the packet-callback dispatch of spec.md §4.5's
// final paragraph: feed packets directly while the pool accepts them,
// then detour the remainder — and everything already blocked — into the
// Packet Queue.
func (h *Handler) FeedPackets(packets []Packet, vbr bool) error {
	i := 0
	if !h.waitingOnBuffer && h.queue.Empty() {
		for ; i < len(packets); i++ {
			p := packets[i]
			var result int
			var consumed bool
			var err error
			if vbr {
				result, consumed, err = h.HandleVBR(p.Data, p.Desc)
			} else {
				result, _, consumed, err = h.HandleCBR(p.Data)
			}
			if err != nil {
				return err
			}
			if !consumed {
				break // queue this packet and everything after it
			}
			if result == 0 {
				i++
				break // consumed, but the pool is full again
			}
		}
	}
	for ; i < len(packets); i++ {
		p := packets[i]
		if vbr {
			h.queue.PushVBR(p.Desc, p.Data)
		} else {
			h.queue.PushCBR(p.Data)
		}
	}
	return nil
}

// Packet is one unit handed to FeedPackets; Desc is meaningful only when
// vbr is true.
type Packet struct {
	Data []byte
	Desc PacketDescriptor
}

// DrainQueue implements spec.md §4.6: processes queued nodes from the
// head, freeing each on success, stopping on the first handler result of
// 0 (a buffer became full again).
func (h *Handler) DrainQueue() (fullyDrained bool, err error) {
	for {
		n := h.queue.peekHead()
		if n == nil {
			return true, nil
		}

		var result int
		var consumed bool
		switch n.kind {
		case NodeVBR:
			result, consumed, err = h.HandleVBR(n.data, n.desc)
		case NodeCBR:
			result, _, consumed, err = h.HandleCBR(n.data)
		}
		if err != nil {
			return false, err
		}
		if consumed {
			h.queue.pop()
		}
		if result == 0 {
			return false, nil
		}
	}
}

// OnBufferComplete implements the Packet-Queue-draining half of
// on_buffer_complete (spec.md §4.9): release the completed buffer, and if
// the pool had been blocked, drain the queue. The bool result tells the
// Streamer whether the Byte Source may be rescheduled.
func (h *Handler) OnBufferComplete(idx int) (drained bool, err error) {
	h.pool.ReleaseBuffer(idx)
	if !h.waitingOnBuffer {
		return true, nil
	}
	h.waitingOnBuffer = false
	fullyDrained, err := h.DrainQueue()
	if err != nil {
		return false, err
	}
	if !fullyDrained {
		h.waitingOnBuffer = true
	}
	return fullyDrained, nil
}

// FlushPartial force-enqueues the current buffer even though it may be
// only partially filled — used on EndEncountered (spec.md §4.1).
func (h *Handler) FlushPartial() (int, error) {
	if !h.pool.HasPendingBytes() {
		return 1, nil
	}
	return h.enqueue()
}
