// Package streamer implements the Streamer: the per-URL network audio
// streaming state machine of spec.md §2–§5, wiring the Byte Source,
// Shoutcast Sniffer, Format Parser, Buffer Pool, Bitrate Estimator, and
// Audio Queue Adapter together on a single dedicated goroutine.
package streamer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/streamcore/internal/audioqueue"
	"github.com/tphakala/streamcore/internal/bitrate"
	"github.com/tphakala/streamcore/internal/bufferpool"
	"github.com/tphakala/streamcore/internal/bytesource"
	"github.com/tphakala/streamcore/internal/conf"
	"github.com/tphakala/streamcore/internal/errors"
	"github.com/tphakala/streamcore/internal/events"
	"github.com/tphakala/streamcore/internal/httpclient"
	"github.com/tphakala/streamcore/internal/logging"
	"github.com/tphakala/streamcore/internal/parser"
	"github.com/tphakala/streamcore/internal/sniffer"
)

// msgKind distinguishes what's carried on the run loop's single channel,
// matching spec.md §9's message set: {ByteChunk, ParserEvent,
// BufferComplete, IsRunning, UserCommand, Tick}.
type msgKind int

const (
	msgByteChunk msgKind = iota
	msgSourceEnd
	msgSourceError
	msgParserProperty
	msgParserPacket
	msgQueueEvent
	msgCommand
	msgTick
)

type message struct {
	kind     msgKind
	chunk    []byte
	err      error
	property parser.PropertyEvent
	packet   parser.PacketEvent
	qevent   audioqueue.Event
	cmd      *command
}

// observed mirrors spec.md §3's "Observed state" block: the fields a
// caller on another goroutine can read without joining the run loop.
// Written only by the run loop, under s.mu; read under s.mu's RLock.
type observed struct {
	state        State
	lastErr      *errors.EnhancedError
	lastProgress float64
	started      bool
}

// Streamer is one network audio streaming session, instantiated per URL
// (spec.md §3: "Streamer instance (singleton per URL)").
type Streamer struct {
	id     string
	url    string
	logger *slog.Logger
	bus    *events.Bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	msgs   chan message

	// startClaimed makes Start() idempotent independently of observed.started:
	// the latter only flips true once every run-loop field (acc, queue,
	// sourceGate, ...) is initialized, so a query method racing in right
	// after Start() returns never sees started=true paired with a still-nil
	// acc/queue.
	startClaimed atomic.Bool

	// Configuration: mutable only before start(), guarded by cfgMu since
	// setters may race with a concurrent start() call.
	cfgMu     sync.Mutex
	settings  conf.Settings
	probeOnly bool

	// probeMode is probeOnly's run-loop-owned copy, snapshotted once in
	// Start() like every other run-loop field.
	probeMode bool

	// Run-loop-owned components and state. Touched only from run(); safe
	// without locks by the single-writer rule of spec.md §5.
	httpClient *httpclient.Client
	source     *bytesource.Source
	snf        *sniffer.Sniffer
	prs        parser.Parser
	pool       *bufferpool.Pool
	handler    *bufferpool.Handler
	queue      *queueAdapter

	// acc is reassigned (not just mutated) by the run loop whenever the
	// format is (re)established, and Duration/CalculatedBitRate read the
	// pointer from arbitrary goroutines — so unlike the other run-loop-owned
	// fields above, every assignment and external read of acc itself goes
	// through s.mu. The Accumulator's own counters are guarded separately by
	// its internal mutex.
	acc *bitrate.Accumulator

	dataOffset             int64
	audioDataByteCount     int64
	fileLength             int64
	asbd                   parser.ASBD
	vbr                    bool
	packetBufferSize       int
	totalAudioPackets      int64
	totalAudioPacketsKnown bool
	magicCookie            []byte
	discoveryDone          bool
	sniffingActive         bool

	seeking        bool
	seekByteOffset int64
	seekTime       float64

	sourceGate   *gate
	sourceDone   chan struct{}
	unscheduled  bool
	rescheduled  bool
	sourceAtEOF  bool
	queueCreated bool
	queueStarted bool

	eventsSinceLastTick int
	ticker              *time.Ticker

	mu       sync.RWMutex
	observed observed
}

// New constructs a Streamer in Initialized state. It does not open any
// network connection until start().
func New(url string, bus *events.Bus) *Streamer {
	return &Streamer{
		id:       uuid.NewString(),
		url:      url,
		logger:   logging.ForService("streamer"),
		bus:      bus,
		settings: conf.Defaults(),
		msgs:     make(chan message, 256),
	}
}

// Start implements start() (spec.md §6): opens the Byte Source and
// transitions Initialized → WaitingForData. Returns false if already
// started.
func (s *Streamer) Start() bool {
	if !s.startClaimed.CompareAndSwap(false, true) {
		return false
	}

	s.cfgMu.Lock()
	settings := s.settings
	probeOnly := s.probeOnly
	s.cfgMu.Unlock()
	if err := settings.Validate(); err != nil {
		s.logger.Error("invalid configuration", "error", err)
		s.startClaimed.Store(false)
		return false
	}

	s.probeMode = probeOnly
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.httpClient = httpclient.New(&httpclient.Config{Proxy: settings.Proxy})
	s.snf = sniffer.New()
	s.queue = newQueueAdapter(s.msgs)
	s.sourceGate = newGate()
	s.ticker = time.NewTicker(settings.TimeoutInterval)
	s.totalAudioPackets = bitrate.Sentinel

	s.mu.Lock()
	s.acc = bitrate.New(0, 0, 0, false)
	s.observed.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	s.msgs <- message{kind: msgCommand, cmd: &command{kind: cmdInternalOpen}}
	return true
}

// run is the single dedicated Streamer goroutine spec.md §5 describes as
// the alternative to a platform run loop: every state mutation in this
// package happens here, and only here.
func (s *Streamer) run() {
	defer s.wg.Done()
	defer s.ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.msgs:
			s.handleMessage(m)
		case <-s.ticker.C:
			s.onTick()
		}
	}
}

func (s *Streamer) handleMessage(m message) {
	switch m.kind {
	case msgByteChunk:
		s.eventsSinceLastTick++
		s.onBytesAvailable(m.chunk)
	case msgSourceEnd:
		s.eventsSinceLastTick++
		s.onEndEncountered()
	case msgSourceError:
		s.eventsSinceLastTick++
		s.failWith(KindNetworkConnectionFailed, errors.CategoryNetwork, m.err, "byte source read failed")
	case msgParserProperty:
		s.onParserProperty(m.property)
	case msgParserPacket:
		s.onParserPacket(m.packet)
	case msgQueueEvent:
		s.eventsSinceLastTick++
		s.onQueueEvent(m.qevent)
	case msgCommand:
		s.handleCommand(m.cmd)
	case msgTick:
		s.onTick()
	}
}

func (s *Streamer) onTick() {
	s.mu.RLock()
	state := s.observed.state
	s.mu.RUnlock()

	if state == StatePaused || state.terminal() {
		return
	}
	if s.unscheduled && !s.rescheduled {
		return
	}
	if s.unscheduled && s.rescheduled {
		s.unscheduled = false
		s.rescheduled = false
		return
	}
	if s.eventsSinceLastTick > 0 {
		s.eventsSinceLastTick = 0
		return
	}
	s.failWith(KindTimedOut, errors.CategoryTimeout, nil, "no network events within timeout_interval")
}

// Close cancels the run loop's context and waits for it to exit. Not part
// of spec.md's public API; provided so embedders (and tests using
// go.uber.org/goleak) can guarantee the goroutine is reclaimed after Stop.
func (s *Streamer) Close() {
	s.mu.RLock()
	started := s.observed.started
	s.mu.RUnlock()
	if !started {
		return
	}
	s.cancel()
	s.wg.Wait()
}
