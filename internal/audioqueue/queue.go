// Package audioqueue implements the Audio Queue Adapter of spec.md §4.9 on
// top of gen2brain/malgo, in Playback mode (the teacher's own malgo wiring,
// internal/audiocore/sources/malgo, only ever opens malgo.Capture devices;
// this mirrors the same device lifecycle — context init, device config,
// Data/Stop callbacks, backend-per-GOOS selection — into Playback).
package audioqueue

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/streamcore/internal/errors"
)

const gainScale = 1_000_000.0

// ASBD is the subset of format fields the output device needs. Playback
// always targets interleaved signed 16-bit PCM, the one format the
// parser adapters (internal/parser) actually produce.
type ASBD struct {
	SampleRate int
	Channels   int
}

// EventKind distinguishes which Queue callback fired.
type EventKind int

const (
	EventBufferComplete EventKind = iota
	EventIsRunningChanged
	EventFlushFailed
)

// Event mirrors the Audio Queue Adapter's callbacks (buffer-complete,
// IsRunning property change), marshaled off malgo's own callback thread
// onto a channel the Streamer's run loop reads — the same "marshal onto
// the main run loop" shape spec.md §5 requires, with the channel itself
// serving as the marshaling point. EventFlushFailed carries the error a
// backgrounded FlushAsync hit trying to hard-stop the device once it
// finished draining.
type Event struct {
	Kind        EventKind
	BufferIndex int
	Running     bool
	Err         error
}

type pendingBuffer struct {
	idx  int
	data []byte
	pos  int
}

// Queue is the malgo-backed output device: create_queue, start_audio_queue,
// buffer submission, and the buffer-complete/IsRunning callbacks of
// spec.md §4.9.
type Queue struct {
	asbd ASBD

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	pending []*pendingBuffer
	fadeStop chan struct{}

	gain       atomic.Int64
	running    atomic.Bool
	sampleTime atomic.Int64
	draining   atomic.Bool

	playbackRate    float64
	timePitchBypass bool

	events chan Event
}

// New allocates a Queue for the given format. bufferCount sizes the event
// channel generously enough that the malgo callback thread never blocks
// delivering a buffer-complete — dropping one would leak that buffer
// forever, which is worse than the bounded head-of-line wait.
func New(asbd ASBD, bufferCount int) *Queue {
	q := &Queue{asbd: asbd, events: make(chan Event, bufferCount*4+8)}
	q.gain.Store(int64(gainScale))
	return q
}

// Events returns the channel the Streamer's run loop drains.
func (q *Queue) Events() <-chan Event { return q.events }

func backendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.Newf("audioqueue: unsupported operating system %q", runtime.GOOS).
			Component("audioqueue").
			Category(errors.CategoryAudio).
			Build()
	}
}

// Create implements create_queue(): opens the malgo context and a
// Playback device at the current ASBD, wires the Data/Stop callbacks.
// packet_buffer_size/allocate-N-buffers and magic-cookie transfer are the
// Streamer's and Pool's concerns (spec.md §4.4/§4.9); this adapter only
// owns the device itself.
func (q *Queue) Create() error {
	backend, err := backendForPlatform()
	if err != nil {
		return err
	}

	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return errors.New(err).
			Component("audioqueue").
			Category(errors.CategoryAudio).
			Context("operation", "init_context").
			Build()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(q.asbd.Channels)
	deviceConfig.SampleRate = uint32(q.asbd.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: q.onData,
		Stop: q.onStop,
	})
	if err != nil {
		_ = ctx.Uninit()
		return errors.New(err).
			Component("audioqueue").
			Category(errors.CategoryAudio).
			Context("operation", "init_device").
			Build()
	}

	q.mu.Lock()
	q.ctx = ctx
	q.device = device
	q.mu.Unlock()
	return nil
}

// SetMagicCookie is a no-op: malgo plays raw PCM and has no concept of a
// codec magic cookie, and spec.md §7 already treats magic-cookie failures
// as ignorable, so a cookie-less device is a faithful simplification
// rather than a silently swallowed error path.
func (q *Queue) SetMagicCookie(cookie []byte) error { return nil }

// Start implements start_audio_queue(): bypasses time-pitch when
// playback_rate is 1.0 or the resource length is unknown. No time-pitch
// library ships in this dependency set (malgo is PCM I/O only, not a
// pitch-preserving resampler), so outside the bypass case playbackRate is
// recorded but playback runs at the device's native rate — a documented
// gap, not a silent one.
func (q *Queue) Start(playbackRate float64, fileLength int64) error {
	q.mu.Lock()
	q.playbackRate = playbackRate
	q.timePitchBypass = playbackRate == 1.0 || fileLength == 0
	device := q.device
	q.mu.Unlock()

	if device == nil {
		return errors.Newf("audioqueue: start: queue not created").
			Component("audioqueue").
			Category(errors.CategoryState).
			Build()
	}
	if err := device.Start(); err != nil {
		return errors.New(err).
			Component("audioqueue").
			Category(errors.CategoryAudio).
			Context("operation", "start").
			Build()
	}
	q.running.Store(true)
	q.pushEvent(Event{Kind: EventIsRunningChanged, Running: true})
	return nil
}

// Submit hands a filled buffer to the device: the PCM bytes are queued for
// the next Data callback to drain. idx is the Pool buffer index, returned
// on the buffer-complete event once fully consumed.
func (q *Queue) Submit(idx int, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.device == nil {
		return errors.Newf("audioqueue: submit: queue not created").
			Component("audioqueue").
			Category(errors.CategoryState).
			Build()
	}
	if q.draining.Load() {
		return errors.Newf("audioqueue: submit: queue is draining").
			Component("audioqueue").
			Category(errors.CategoryState).
			Build()
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	q.pending = append(q.pending, &pendingBuffer{idx: idx, data: cp})
	return nil
}

// onData runs on malgo's own audio thread.
func (q *Queue) onData(output, _ []byte, frameCount uint32) {
	q.mu.Lock()
	n := len(output)
	written := 0
	var completed []int
	for written < n && len(q.pending) > 0 {
		buf := q.pending[0]
		avail := len(buf.data) - buf.pos
		take := n - written
		if take > avail {
			take = avail
		}
		copy(output[written:written+take], buf.data[buf.pos:buf.pos+take])
		buf.pos += take
		written += take
		if buf.pos >= len(buf.data) {
			completed = append(completed, buf.idx)
			q.pending = q.pending[1:]
		}
	}
	q.mu.Unlock()

	for i := written; i < n; i++ {
		output[i] = 0 // silence on underrun
	}

	if gain := float64(q.gain.Load()) / gainScale; gain != 1.0 {
		applyGainS16(output[:written], gain)
	}

	q.sampleTime.Add(int64(frameCount))
	for _, idx := range completed {
		q.events <- Event{Kind: EventBufferComplete, BufferIndex: idx}
	}
}

func (q *Queue) onStop() {
	q.running.Store(false)
	q.pushEvent(Event{Kind: EventIsRunningChanged, Running: false})
}

func (q *Queue) pushEvent(e Event) { q.events <- e }

// applyGainS16 scales interleaved little-endian 16-bit samples in place,
// clamping on overflow.
func applyGainS16(buf []byte, gain float64) {
	for i := 0; i+1 < len(buf); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(buf[i : i+2]))
		amplified := float64(sample) * gain
		switch {
		case amplified > 32767:
			amplified = 32767
		case amplified < -32768:
			amplified = -32768
		}
		binary.LittleEndian.PutUint16(buf[i:i+2], uint16(int16(amplified)))
	}
}

// SampleTime returns the running count of frames handed to the device,
// the input to progress()'s queue_sample_time term.
func (q *Queue) SampleTime() int64 { return q.sampleTime.Load() }

// IsRunning reports the synthesized IsRunning state.
func (q *Queue) IsRunning() bool { return q.running.Load() }

// SetVolume implements set_volume (§1 supplement, assigned to this
// adapter per DESIGN.md's Open Question decision — it's the only
// component that owns the output device).
func (q *Queue) SetVolume(v float64) bool {
	if !q.deviceReady() {
		return false
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	q.stopFade()
	q.gain.Store(int64(v * gainScale))
	return true
}

func (q *Queue) deviceReady() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.device != nil
}

// FadeTo ramps the gain to target over duration using a lock-free
// atomic.Int64 fixed-point gain updated by a dedicated ramp goroutine.
func (q *Queue) FadeTo(target float64, duration time.Duration) bool {
	if !q.deviceReady() {
		return false
	}
	q.stopFade()
	if duration <= 0 {
		return q.SetVolume(target)
	}

	start := float64(q.gain.Load()) / gainScale
	stop := make(chan struct{})
	q.mu.Lock()
	q.fadeStop = stop
	q.mu.Unlock()

	go q.runFade(start, target, duration, stop)
	return true
}

// FadeIn starts silent and fades up to full volume.
func (q *Queue) FadeIn(duration time.Duration) bool {
	if !q.deviceReady() {
		return false
	}
	q.gain.Store(0)
	return q.FadeTo(1.0, duration)
}

// FadeOut fades down to silence.
func (q *Queue) FadeOut(duration time.Duration) bool {
	return q.FadeTo(0.0, duration)
}

func (q *Queue) stopFade() {
	q.mu.Lock()
	stop := q.fadeStop
	q.fadeStop = nil
	q.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (q *Queue) runFade(start, target float64, duration time.Duration, stop chan struct{}) {
	const steps = 50
	interval := duration / steps
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 1; i <= steps; i++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
			v := start + (target-start)*float64(i)/float64(steps)
			q.gain.Store(int64(v * gainScale))
		}
	}
}

// Stop implements the hard, synchronous stop spec.md §4.7/§5 require
// (seek teardown, stop()'s cancellation semantics). It discards whatever
// is still pending — the immediate AudioQueueStop(true) this is modeled
// on never lets queued buffers play out. FlushAsync is the counterpart
// that does let them play out.
func (q *Queue) Stop() error {
	q.stopFade()
	q.draining.Store(false)
	q.mu.Lock()
	device := q.device
	q.pending = nil
	q.mu.Unlock()

	if device == nil {
		return nil
	}
	if err := device.Stop(); err != nil {
		return errors.New(err).
			Component("audioqueue").
			Category(errors.CategoryAudio).
			Context("operation", "stop").
			Build()
	}
	q.running.Store(false)
	q.pushEvent(Event{Kind: EventIsRunningChanged, Running: false})
	return nil
}

// FlushAsync implements the asynchronous flush of enqueue_buffer step 5
// (spec.md §4.4): modeled on AudioQueueFlush, which lets buffers already
// submitted to the device play out rather than yanking them the way
// AudioQueueStop(true)/Stop does. It stops taking new Submits immediately,
// waits for onData to drain the buffers already pending, then hard-stops
// the device. A failure there surfaces as EventFlushFailed on the events
// channel rather than being swallowed, since nothing else observes this
// goroutine.
func (q *Queue) FlushAsync() {
	q.draining.Store(true)
	go q.drainAndStop()
}

func (q *Queue) drainAndStop() {
	const pollInterval = 5 * time.Millisecond
	for {
		q.mu.Lock()
		empty := len(q.pending) == 0
		q.mu.Unlock()
		if empty {
			break
		}
		time.Sleep(pollInterval)
	}
	if err := q.Stop(); err != nil {
		q.pushEvent(Event{Kind: EventFlushFailed, Err: err})
	}
}

// Close releases the device and context. Safe to call after Stop.
func (q *Queue) Close() error {
	q.stopFade()
	q.mu.Lock()
	device := q.device
	ctx := q.ctx
	q.device = nil
	q.ctx = nil
	q.mu.Unlock()

	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if ctx != nil {
		_ = ctx.Uninit()
	}
	return nil
}
