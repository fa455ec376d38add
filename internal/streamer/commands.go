package streamer

import (
	"time"

	"github.com/tphakala/streamcore/internal/conf"
	"github.com/tphakala/streamcore/internal/httpclient"
)

// maxPacketDescs bounds packet_descs (spec.md §3); no normative value is
// given, so this follows the conventional Apple AudioFileStream sample
// size used for comparable VBR containers.
const maxPacketDescs = 512

type cmdKind int

const (
	cmdInternalOpen cmdKind = iota
	cmdPause
	cmdPlay
	cmdStop
	cmdSeekToTime
	cmdSeekByDelta
	cmdSetVolume
	cmdFadeTo
	cmdFadeIn
	cmdFadeOut
	cmdSetHTTPProxy
	cmdSetSOCKSProxy
)

type command struct {
	kind  cmdKind
	f1    float64
	f2    float64
	dur   time.Duration
	host  string
	port  int
	reply chan bool
}

func (s *Streamer) sendCommand(cmd *command) bool {
	cmd.reply = make(chan bool, 1)
	select {
	case s.msgs <- message{kind: msgCommand, cmd: cmd}:
	case <-s.ctx.Done():
		return false
	}
	select {
	case ok := <-cmd.reply:
		return ok
	case <-s.ctx.Done():
		return false
	}
}

func (s *Streamer) handleCommand(cmd *command) {
	var ok bool
	switch cmd.kind {
	case cmdInternalOpen:
		s.openByteSource(0, false)
		return // fire-and-forget, no reply channel
	case cmdPause:
		ok = s.doPause()
	case cmdPlay:
		ok = s.doPlay()
	case cmdStop:
		s.doStop(DoneReasonStopped, nil)
		ok = true
	case cmdSeekToTime:
		ok = s.doSeekToTime(cmd.f1)
	case cmdSeekByDelta:
		ok = s.doSeekByDelta(cmd.f1)
	case cmdSetVolume:
		ok = s.queue.SetVolume(cmd.f1)
	case cmdFadeTo:
		ok = s.queue.FadeTo(cmd.f1, cmd.dur)
	case cmdFadeIn:
		ok = s.queue.FadeIn(cmd.dur)
	case cmdFadeOut:
		ok = s.queue.FadeOut(cmd.dur)
	case cmdSetHTTPProxy:
		s.cfgMu.Lock()
		s.settings.Proxy = httpclient.ProxyConfig{Kind: httpclient.ProxyHTTP, Host: cmd.host, Port: cmd.port}
		s.cfgMu.Unlock()
		ok = true
	case cmdSetSOCKSProxy:
		s.cfgMu.Lock()
		s.settings.Proxy = httpclient.ProxyConfig{Kind: httpclient.ProxySOCKS, Host: cmd.host, Port: cmd.port}
		s.cfgMu.Unlock()
		ok = true
	}
	if cmd.reply != nil {
		cmd.reply <- ok
	}
}

func (s *Streamer) doPause() bool {
	s.mu.RLock()
	playing := s.observed.state == StatePlaying
	s.mu.RUnlock()
	if !playing {
		return false
	}
	s.setPauseGate(true)
	s.setState(StatePaused, "pause")
	return true
}

func (s *Streamer) doPlay() bool {
	s.mu.RLock()
	paused := s.observed.state == StatePaused
	s.mu.RUnlock()
	if !paused {
		return false
	}
	s.setPauseGate(false)
	s.setState(StatePlaying, "play")
	return true
}

// SetHTTPProxy implements set_http_proxy(host, port) (spec.md §6).
func (s *Streamer) SetHTTPProxy(host string, port int) {
	s.mu.RLock()
	started := s.observed.started
	s.mu.RUnlock()
	if !started {
		s.cfgMu.Lock()
		s.settings.Proxy = httpclient.ProxyConfig{Kind: httpclient.ProxyHTTP, Host: host, Port: port}
		s.cfgMu.Unlock()
		return
	}
	s.sendCommand(&command{kind: cmdSetHTTPProxy, host: host, port: port})
}

// SetSOCKSProxy implements set_socks_proxy(host, port).
func (s *Streamer) SetSOCKSProxy(host string, port int) {
	s.mu.RLock()
	started := s.observed.started
	s.mu.RUnlock()
	if !started {
		s.cfgMu.Lock()
		s.settings.Proxy = httpclient.ProxyConfig{Kind: httpclient.ProxySOCKS, Host: host, Port: port}
		s.cfgMu.Unlock()
		return
	}
	s.sendCommand(&command{kind: cmdSetSOCKSProxy, host: host, port: port})
}

// SetVolume implements set_volume(v) (spec.md §6): false if the queue
// isn't created yet.
func (s *Streamer) SetVolume(v float64) bool {
	if !s.running() {
		return false
	}
	return s.sendCommand(&command{kind: cmdSetVolume, f1: v})
}

// FadeTo implements fade_to(v, duration).
func (s *Streamer) FadeTo(v float64, duration time.Duration) bool {
	if !s.running() {
		return false
	}
	return s.sendCommand(&command{kind: cmdFadeTo, f1: v, dur: duration})
}

// FadeIn implements fade_in(duration).
func (s *Streamer) FadeIn(duration time.Duration) bool {
	if !s.running() {
		return false
	}
	return s.sendCommand(&command{kind: cmdFadeIn, dur: duration})
}

// FadeOut implements fade_out(duration).
func (s *Streamer) FadeOut(duration time.Duration) bool {
	if !s.running() {
		return false
	}
	return s.sendCommand(&command{kind: cmdFadeOut, dur: duration})
}

// Pause implements pause(): false if not Playing.
func (s *Streamer) Pause() bool {
	if !s.running() {
		return false
	}
	return s.sendCommand(&command{kind: cmdPause})
}

// Play implements play(): false if not Paused.
func (s *Streamer) Play() bool {
	if !s.running() {
		return false
	}
	return s.sendCommand(&command{kind: cmdPlay})
}

// Stop implements stop() (spec.md §5): idempotent, safe from any state,
// including from inside a callback (our callbacks run on the run loop
// itself, so handleCommand invokes doStop directly rather than
// round-tripping through sendCommand).
func (s *Streamer) Stop() {
	s.mu.RLock()
	started := s.observed.started
	s.mu.RUnlock()
	if !started {
		return
	}
	s.sendCommand(&command{kind: cmdStop})
}

// SeekToTime implements seek_to_time(t). The public API has no boolean
// return per spec.md §6's signature, but the internal seek protocol may
// reject the request (e.g. no bitrate yet); Stop/Done are left unaffected.
func (s *Streamer) SeekToTime(t float64) {
	if !s.running() {
		return
	}
	s.sendCommand(&command{kind: cmdSeekToTime, f1: t})
}

// SeekByDelta implements seek_by_delta(dt) → bool.
func (s *Streamer) SeekByDelta(dt float64) bool {
	if !s.running() {
		return false
	}
	return s.sendCommand(&command{kind: cmdSeekByDelta, f1: dt})
}

func (s *Streamer) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observed.started && !s.observed.state.terminal()
}

// --- Configuration setters, valid only before start() (spec.md §6). ---

func (s *Streamer) BufferCount(n int) *Streamer {
	s.cfgMu.Lock()
	s.settings.BufferCount = n
	s.cfgMu.Unlock()
	return s
}

func (s *Streamer) BufferSize(n int) *Streamer {
	s.cfgMu.Lock()
	s.settings.BufferSize = n
	s.cfgMu.Unlock()
	return s
}

func (s *Streamer) TimeoutInterval(d time.Duration) *Streamer {
	s.cfgMu.Lock()
	s.settings.TimeoutInterval = d
	s.cfgMu.Unlock()
	return s
}

// Probe puts the Streamer into probe mode: total-packet discovery and
// bitrate estimation run exactly as they do during ordinary playback, but
// create_queue() is never called, so no audio device is opened. The
// stream transitions to Stopped as soon as calculated_bit_rate first
// becomes available (or on EOF/error/timeout, same as ordinary playback).
// Must be called before Start.
func (s *Streamer) Probe() *Streamer {
	s.cfgMu.Lock()
	s.probeOnly = true
	s.cfgMu.Unlock()
	return s
}

func (s *Streamer) PlaybackRate(rate float64) *Streamer {
	s.cfgMu.Lock()
	s.settings.PlaybackRate = rate
	s.cfgMu.Unlock()
	return s
}

func (s *Streamer) BufferInfinite(infinite bool) *Streamer {
	s.cfgMu.Lock()
	s.settings.BufferInfinite = infinite
	s.cfgMu.Unlock()
	return s
}

func (s *Streamer) FileType(t conf.FileType) *Streamer {
	s.cfgMu.Lock()
	s.settings.FileType = t
	s.cfgMu.Unlock()
	return s
}
