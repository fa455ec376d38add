package streamer

import (
	"net/url"
	"path"
	"strings"

	"github.com/tphakala/streamcore/internal/audioqueue"
	"github.com/tphakala/streamcore/internal/bitrate"
	"github.com/tphakala/streamcore/internal/bufferpool"
	"github.com/tphakala/streamcore/internal/bytesource"
	"github.com/tphakala/streamcore/internal/conf"
	"github.com/tphakala/streamcore/internal/errors"
	"github.com/tphakala/streamcore/internal/events"
	"github.com/tphakala/streamcore/internal/metrics"
	"github.com/tphakala/streamcore/internal/parser"
)

func (s *Streamer) cfgSnapshot() conf.Settings {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.settings
}

// failWith implements fail_with(code, reason) (spec.md §7): idempotent via
// doStop's terminal-state guard, records the error, and drives the state
// machine to Done.
func (s *Streamer) failWith(kind Kind, category errors.ErrorCategory, cause error, reason string) {
	s.mu.RLock()
	already := s.observed.state.terminal()
	s.mu.RUnlock()
	if already {
		return
	}
	enhanced := newFailure(kind, category, cause, reason)
	s.logger.Error("stream failed", "kind", string(kind), "reason", reason, "error", enhanced)
	metrics.Get().RecordError(s.id, string(kind))
	s.doStop(DoneReasonError, enhanced)
}

// doStop tears down every live component and transitions to the terminal
// state reason implies. Idempotent: a second call while already terminal
// is a no-op, which is what makes stop() safe to call from inside a
// callback running on this same goroutine (spec.md §5).
func (s *Streamer) doStop(reason DoneReason, err *errors.EnhancedError) {
	s.mu.RLock()
	already := s.observed.state.terminal()
	s.mu.RUnlock()
	if already {
		return
	}

	s.teardown()
	if s.queueCreated {
		_ = s.queue.Stop()
	}
	_ = s.queue.Close()

	if err != nil {
		s.mu.Lock()
		if s.observed.lastErr == nil {
			s.observed.lastErr = err
		}
		s.mu.Unlock()
	}

	next := StateDone
	if reason == DoneReasonStopped {
		next = StateStopped
	}
	s.setState(next, reason.String())
}

// teardown closes the Byte Source and the Format Parser. It deliberately
// leaves the audio queue device alone: doSeekToTime calls this mid-flight
// and expects the same device to be reused once the reopened Source starts
// producing packets again. doStop stops and closes the queue itself, after
// teardown returns, since only a terminal stop should release it.
func (s *Streamer) teardown() {
	s.closeByteSource()
	if s.prs != nil {
		_ = s.prs.Close()
		s.prs = nil
	}
}

func (s *Streamer) closeByteSource() {
	if s.source != nil {
		s.source.Close()
		s.source = nil
	}
	if s.sourceDone != nil {
		close(s.sourceDone)
		s.sourceDone = nil
	}
}

// openByteSource implements the Byte Source half of start()/seek_to_time
// (spec.md §4.1/§4.7): opens the HTTP GET (resumed with a Range header
// when offset is positive) and spawns the goroutine that pumps its events
// onto the run loop. isSeek is true for the reopen at the end of the seek
// protocol, where the parser has already been realigned and file-type
// resolution must not run again.
func (s *Streamer) openByteSource(offset int64, isSeek bool) {
	cfg := s.cfgSnapshot()
	chunkSize := s.packetBufferSize
	if chunkSize < cfg.BufferSize {
		chunkSize = cfg.BufferSize
	}
	if chunkSize < 2048 {
		chunkSize = 2048
	}

	src := bytesource.New(s.httpClient, s.url, chunkSize)
	result, err := src.Open(s.ctx, offset, s.fileLength)
	if err != nil {
		s.failWith(KindFileStreamOpenFailed, errors.CategoryNetwork, err, "byte source open failed")
		return
	}

	s.source = src
	s.sourceAtEOF = false
	if !isSeek && result.ContentLength > 0 {
		s.mu.Lock()
		s.fileLength = result.ContentLength
		s.mu.Unlock()
	}

	if !isSeek {
		s.resolveFileTypeAndOpenParser(result.ContentType)
		s.setState(StateWaitingForData, "start")
	}

	done := make(chan struct{})
	s.sourceDone = done
	s.wg.Add(1)
	go s.pumpSource(src, done)
}

func (s *Streamer) resolveFileTypeAndOpenParser(contentType string) {
	cfg := s.cfgSnapshot()
	var ft conf.FileType
	sniffing := false

	switch {
	case cfg.FileType != conf.FileTypeUnknown:
		ft = cfg.FileType
	default:
		if mt, ok := conf.FileTypeFromMIME(contentType); ok {
			ft = mt
		} else if et, ok := conf.FileTypeFromExtension(extFromURL(s.url)); ok {
			ft = et
		} else if hint, ok := bufferpool.GlobalTypeHints().Hint(s.url); ok {
			if ht, ok := conf.FileTypeFromExtension(hint); ok {
				ft = ht
			} else {
				ft = conf.FileTypeMP3
				sniffing = true
			}
		} else {
			ft = conf.FileTypeMP3
			sniffing = true
		}
	}

	if !sniffing {
		bufferpool.GlobalTypeHints().Remember(s.url, ft.String())
	}
	s.sniffingActive = sniffing
	s.openParser(ft)
}

func extFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(path.Ext(u.Path), ".")
}

func (s *Streamer) openParser(ft conf.FileType) {
	cfg := s.cfgSnapshot()
	s.prs = parser.New(ft, cfg.BufferSize, parser.Callbacks{
		OnProperty: func(ev parser.PropertyEvent) {
			select {
			case s.msgs <- message{kind: msgParserProperty, property: ev}:
			case <-s.ctx.Done():
			}
		},
		OnPacket: func(ev parser.PacketEvent) {
			select {
			case s.msgs <- message{kind: msgParserPacket, packet: ev}:
			case <-s.ctx.Done():
			}
		},
	})
}

// pumpSource drains one Source's events onto the run loop, gated by
// sourceGate so pause() and the buffer-full detour can both apply genuine
// backpressure to the network read without touching the audio queue
// (spec.md §4.9 has no pause operation of its own; §4.4 step 6's
// unschedule is the same mechanism with a different trigger). done is
// closed by closeByteSource when this particular Source is retired (stop,
// seek, or a Shoutcast reset), since the Source itself never closes its
// event channel.
func (s *Streamer) pumpSource(src *bytesource.Source, done <-chan struct{}) {
	defer s.wg.Done()
	events := src.Events()
	for {
		if s.sourceGate.blocked() {
			select {
			case <-s.sourceGate.closedChan():
			case <-done:
				return
			case <-s.ctx.Done():
				return
			}
			continue
		}
		select {
		case <-done:
			return
		case <-s.ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case bytesource.EventBytesAvailable:
				select {
				case s.msgs <- message{kind: msgByteChunk, chunk: ev.Data}:
				case <-done:
					return
				case <-s.ctx.Done():
					return
				}
			case bytesource.EventEnd:
				select {
				case s.msgs <- message{kind: msgSourceEnd}:
				case <-done:
				case <-s.ctx.Done():
				}
				return
			case bytesource.EventError:
				select {
				case s.msgs <- message{kind: msgSourceError, err: ev.Err}:
				case <-done:
				case <-s.ctx.Done():
				}
				return
			}
		}
	}
}

// onBytesAvailable implements the BytesAvailable callback (spec.md §4.1):
// while Shoutcast sniffing is active, bytes feed the sniffer instead of the
// parser until the inline Content-Type block is found or never arrives.
func (s *Streamer) onBytesAvailable(data []byte) {
	metrics.Get().RecordBytesReceived(s.id, len(data))
	if s.sniffingActive {
		mime, found, consumed := s.snf.Feed(data)
		if !found {
			return
		}
		s.sniffingActive = false
		s.resetForSniff(mime)
		data = data[consumed:]
		if len(data) == 0 {
			return
		}
	}

	if s.prs == nil {
		return
	}
	if err := s.prs.ParseBytes(data); err != nil {
		s.failWith(KindFileStreamParseBytesFailed, errors.CategoryParse, err, "parse_bytes failed")
	}
}

// resetForSniff implements the Shoutcast reset procedure (spec.md §4.2):
// close the current parser, stop and discard the audio queue and pool, and
// reopen a parser for the sniffed type. Buffers aren't reallocated until
// the next create_queue() call, so the state machine moves back to
// WaitingForData across the reset rather than staying wherever it was.
func (s *Streamer) resetForSniff(mime string) {
	if s.prs != nil {
		_ = s.prs.Close()
		s.prs = nil
	}
	if s.queueCreated {
		_ = s.queue.Stop()
		s.queueCreated = false
		s.queueStarted = false
	}
	s.pool = nil
	s.handler = nil

	s.mu.Lock()
	s.dataOffset = 0
	s.audioDataByteCount = 0
	s.asbd = parser.ASBD{}
	s.totalAudioPackets = bitrate.Sentinel
	s.totalAudioPacketsKnown = false
	s.mu.Unlock()
	s.vbr = false
	s.magicCookie = nil
	s.discoveryDone = false

	ft, ok := conf.FileTypeFromMIME(mime)
	if !ok {
		ft = conf.FileTypeMP3
	}
	s.openParser(ft)
	s.setState(StateWaitingForData, "shoutcast_reset")
}

// onEndEncountered implements EndEncountered (spec.md §4.1/§7): flush any
// partial buffer, then either start the audio queue if some data arrived
// but never crossed the warm-up threshold, recognize a seek that landed at
// EOF as a clean Done, or fail with AudioDataNotFound.
func (s *Streamer) onEndEncountered() {
	s.sourceAtEOF = true
	if s.handler != nil {
		if _, err := s.handler.FlushPartial(); err != nil {
			s.failWith(KindAudioQueueEnqueueFailed, errors.CategoryAudio, err, "flush on end of stream failed")
			return
		}
	}

	someDataArrived := s.pool != nil && s.pool.BuffersUsed() > 0

	switch {
	case !s.queueStarted && someDataArrived:
		s.startAudioQueue()
	case !someDataArrived && s.seekByteOffset > 0:
		s.doStop(DoneReasonEOF, nil)
	case !s.queueStarted:
		s.failWith(KindAudioDataNotFound, errors.CategoryNotFound, nil, "no audio data received before end of stream")
	}
}

// onParserProperty implements the Format Parser's property callbacks
// (spec.md §4). dataOffset/audioDataByteCount/asbd are all read by the
// public query methods from arbitrary goroutines, so every write takes
// s.mu.
func (s *Streamer) onParserProperty(ev parser.PropertyEvent) {
	switch ev.Kind {
	case parser.PropDataOffset:
		s.mu.Lock()
		s.dataOffset = ev.DataOffset
		s.mu.Unlock()
	case parser.PropAudioDataByteCount:
		s.mu.Lock()
		s.audioDataByteCount = ev.AudioDataByteCount
		s.mu.Unlock()
		if ev.AudioDataByteCount < 0 {
			s.failWith(KindAudioDataNotFound, errors.CategoryNotFound, nil, "audio_data_byte_count reported negative")
		}
	case parser.PropASBD:
		s.vbr = ev.ASBD.BytesPerPacket == 0
		s.mu.Lock()
		s.asbd = ev.ASBD
		s.acc = bitrate.New(ev.ASBD.SampleRate, ev.ASBD.FramesPerPacket, ev.ASBD.BytesPerPacket, s.vbr)
		s.mu.Unlock()
	case parser.PropReadyToProduce:
		if len(ev.MagicCookie) > 0 {
			s.magicCookie = ev.MagicCookie
		}
	}
}

// onParserPacket implements the Format Parser's packet callback dispatch
// (spec.md §4.5's final paragraph): the first callback runs total-packets
// discovery and create_queue() before any packet reaches the Buffer Pool.
// In probe mode (SPEC_FULL.md's Probe mode), create_queue() is skipped
// entirely and packets only feed the Bitrate Estimator directly.
func (s *Streamer) onParserPacket(ev parser.PacketEvent) {
	if s.probeMode {
		s.runTotalPacketsDiscovery()
		s.feedProbeBitrate(ev)
		return
	}

	if !s.queueCreated {
		s.runTotalPacketsDiscovery()
		if err := s.createQueue(); err != nil {
			s.failWith(KindAudioQueueCreationFailed, errors.CategoryAudio, err, "create_queue failed")
			return
		}
	}

	packets := make([]bufferpool.Packet, len(ev.Packets))
	for i, p := range ev.Packets {
		packets[i] = bufferpool.Packet{
			Data: p.Data,
			Desc: bufferpool.PacketDescriptor{StartOffset: p.Desc.StartOffset, ByteSize: p.Desc.ByteSize},
		}
	}
	if err := s.handler.FeedPackets(packets, ev.VBR); err != nil {
		s.failWith(KindAudioQueueEnqueueFailed, errors.CategoryAudio, err, "feed_packets failed")
	}
}

// createQueue implements create_queue() (spec.md §4.9): allocates the
// Buffer Pool and Handler at the now-known packet_buffer_size, then the
// audio device at the now-known ASBD. Magic-cookie failures are swallowed
// per spec.md §7.
func (s *Streamer) createQueue() error {
	cfg := s.cfgSnapshot()
	s.packetBufferSize = cfg.BufferSize

	s.pool = bufferpool.New(cfg.BufferCount, s.packetBufferSize, maxPacketDescs)
	if s.acc == nil {
		s.mu.Lock()
		s.acc = bitrate.New(s.asbd.SampleRate, s.asbd.FramesPerPacket, s.asbd.BytesPerPacket, s.asbd.BytesPerPacket == 0)
		s.mu.Unlock()
	}
	s.handler = bufferpool.NewHandler(s.pool, s.acc, bufferpool.Hooks{
		Submit:         s.submitBuffer,
		OnWarmedUp:     s.onWarmedUp,
		OnBufferFull:   s.onBufferFullHook,
		OnBitrateReady: s.onBitrateReadyHook,
		SourceAtEOF:    func() bool { return s.sourceAtEOF },
		FlushAsync:     func() { s.queue.FlushAsync() },
	})

	channels := s.asbd.Channels
	if channels <= 0 {
		channels = 2
	}
	if err := s.queue.create(audioqueue.ASBD{SampleRate: s.asbd.SampleRate, Channels: channels}, cfg.BufferCount); err != nil {
		return err
	}
	if len(s.magicCookie) > 0 {
		_ = s.queue.SetMagicCookie(s.magicCookie)
	}
	s.queueCreated = true
	return nil
}

// submitBuffer is Hooks.Submit: hands a filled Pool buffer to the audio
// queue. bytesFilled/vbr/descs don't matter to a raw-PCM device — it plays
// whatever bytes it's given in submission order — but the Handler always
// passes them so the same Submit signature could serve a codec-aware
// adapter too.
func (s *Streamer) submitBuffer(bufIndex, bytesFilled int, vbr bool, descs []bufferpool.PacketDescriptor) error {
	data := append([]byte(nil), s.pool.FillBufferBytes()...)
	if err := s.queue.Submit(bufIndex, data); err != nil {
		return err
	}
	metrics.Get().RecordPacketSubmitted(s.id)
	metrics.Get().UpdateBuffersInUse(s.id, s.pool.BuffersUsed())
	return nil
}

func (s *Streamer) onWarmedUp() {
	s.mu.RLock()
	waiting := s.observed.state == StateWaitingForData
	s.mu.RUnlock()
	if waiting {
		s.startAudioQueue()
	}
}

// onBufferFullHook implements enqueue_buffer step 6: block and unschedule
// the Byte Source unless buffer_infinite.
func (s *Streamer) onBufferFullHook() {
	cfg := s.cfgSnapshot()
	if cfg.BufferInfinite {
		return
	}
	if !s.unscheduled {
		s.unscheduled = true
		s.sourceGate.inc()
	}
}

// feedProbeBitrate is probe mode's stand-in for bufferpool.Handler's
// HandleVBR/HandleCBR: it drives the same Accumulator directly from
// parser packets, without a Pool or Audio Queue to submit into, then
// fires the same OnBitrateReady notification a real enqueue would and
// stops the stream — probe mode has nothing left to resolve once the
// bitrate is known.
func (s *Streamer) feedProbeBitrate(ev parser.PacketEvent) {
	wasReady := s.acc.Ready()
	for _, p := range ev.Packets {
		if ev.VBR {
			s.acc.AddVBRPacket(p.Desc.ByteSize)
		} else {
			s.acc.MarkCBRReady()
		}
	}
	if !wasReady && s.acc.Ready() {
		s.onBitrateReadyHook()
		s.doStop(DoneReasonStopped, nil)
	}
}

func (s *Streamer) onBitrateReadyHook() {
	bps, ok := s.acc.BitRate()
	if !ok {
		return
	}
	metrics.Get().RecordBitrate(s.id, bps)
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Kind:     events.KindBitrateReady,
		StreamID: s.id,
		BitRate:  bps,
	})
}

func (s *Streamer) startAudioQueue() {
	if s.queueStarted {
		return
	}
	cfg := s.cfgSnapshot()
	if err := s.queue.Start(cfg.PlaybackRate, s.fileLength); err != nil {
		s.failWith(KindAudioQueueStartFailed, errors.CategoryAudio, err, "start_audio_queue failed")
		return
	}
	s.queueStarted = true
	s.setState(StateWaitingForQueueToStart, "queue_started")
}

// onQueueEvent implements the Audio Queue Adapter's two callbacks
// (spec.md §4.9): buffer-complete releases the Pool slot and may drain the
// Packet Queue and reschedule the Byte Source; IsRunning-changed drives the
// Playing/Done transitions.
func (s *Streamer) onQueueEvent(ev audioqueue.Event) {
	switch ev.Kind {
	case audioqueue.EventBufferComplete:
		if s.handler == nil {
			// Stale event from a device torn down by a Shoutcast reset,
			// delivered before its pump goroutine observed the replacement.
			return
		}
		drained, err := s.handler.OnBufferComplete(ev.BufferIndex)
		if err != nil {
			s.failWith(KindAudioQueueEnqueueFailed, errors.CategoryAudio, err, "on_buffer_complete failed")
			return
		}
		if drained && s.unscheduled {
			s.unscheduled = false
			s.rescheduled = true
			s.sourceGate.dec()
		}
	case audioqueue.EventIsRunningChanged:
		s.onIsRunningChanged(ev.Running)
	case audioqueue.EventFlushFailed:
		s.failWith(KindAudioQueueFlushFailed, errors.CategoryAudio, ev.Err, "flush_async failed")
	}
}

// onIsRunningChanged implements the IsRunning property-changed callback
// (spec.md §4.9). A false transition only means genuine end-of-stream when
// queueStarted is still true: doSeekToTime and resetForSniff both flip
// queueStarted false themselves as soon as their Stop() call returns, so the
// IsRunningChanged(false) event that Stop() queues arrives here after
// queueStarted has already been cleared, and is recognized as an echo of
// our own teardown rather than the device stopping on its own.
func (s *Streamer) onIsRunningChanged(running bool) {
	s.mu.RLock()
	state := s.observed.state
	s.mu.RUnlock()

	if running {
		if state == StateWaitingForQueueToStart {
			s.setState(StatePlaying, "queue_running")
		}
		return
	}
	if state.terminal() || s.seeking || !s.queueStarted {
		return
	}
	s.doStop(DoneReasonEOF, nil)
}

// setPauseGate is pause()/play()'s half of the mechanism described on
// pumpSource: closing the gate stops the pump draining Source events,
// which backs up through bytesource.Source's own buffered channel and
// eventually blocks its body read — a real pause rather than a queue
// Stop() that would discard already-buffered PCM.
func (s *Streamer) setPauseGate(paused bool) {
	if paused {
		s.sourceGate.inc()
	} else {
		s.sourceGate.dec()
	}
}
