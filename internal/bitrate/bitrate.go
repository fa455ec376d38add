// Package bitrate implements the running bitrate accumulator and the
// three-tier duration estimate of spec.md §4.11.
package bitrate

import "sync"

// EstMin is the number of VBR packets that must be observed before
// calculated_bit_rate becomes available (spec.md §4.5).
const EstMin = 50

// Sentinel is the bisection's initial upper bound in total-packets
// discovery (spec.md §4.8); when the parser never fails a seek-by-packet
// probe, the true count is unknowable and this value is returned instead.
const Sentinel = 1_000_000

// Accumulator tracks the running bits/sec estimate for one Streamer.
// VBR and CBR take different paths: VBR averages observed packet sizes,
// CBR derives the rate directly from the format's fixed packet geometry.
// AddVBRPacket/MarkCBRReady are only ever called from the Streamer's run
// loop, but BitRate/Ready/VBRCount are read from query methods called on
// arbitrary goroutines, so the counters are guarded by mu rather than
// relying on the run loop's own single-writer discipline.
type Accumulator struct {
	vbr bool

	sampleRate      int
	framesPerPacket int
	bytesPerPacket  int // CBR only

	mu           sync.RWMutex
	vbrSizeTotal float64
	vbrCount     int
	cbrReady     bool
}

// New constructs an Accumulator for the given ASBD fields. vbr selects
// which formula calculated_bit_rate uses.
func New(sampleRate, framesPerPacket, bytesPerPacket int, vbr bool) *Accumulator {
	return &Accumulator{
		vbr:             vbr,
		sampleRate:      sampleRate,
		framesPerPacket: framesPerPacket,
		bytesPerPacket:  bytesPerPacket,
	}
}

// AddVBRPacket folds one packet's size into the running accumulator:
// processed_packets_size_total += 8 * byte_size / packet_duration.
func (a *Accumulator) AddVBRPacket(byteSize int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sampleRate <= 0 || a.framesPerPacket <= 0 {
		a.vbrCount++
		return
	}
	packetDuration := float64(a.framesPerPacket) / float64(a.sampleRate)
	a.vbrSizeTotal += 8 * float64(byteSize) / packetDuration
	a.vbrCount++
}

// VBRCount returns processed_packets_count.
func (a *Accumulator) VBRCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.vbrCount
}

// MarkCBRReady records that a CBR packet has been observed; CBR bitrate
// is derivable immediately from format geometry alone.
func (a *Accumulator) MarkCBRReady() {
	a.mu.Lock()
	a.cbrReady = true
	a.mu.Unlock()
}

// Ready reports whether BitRate would currently succeed.
func (a *Accumulator) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.vbr {
		return a.vbrCount >= EstMin
	}
	return a.cbrReady
}

// BitRate implements calculated_bit_rate (spec.md §4.11).
func (a *Accumulator) BitRate() (bps float64, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.vbr {
		if a.vbrCount < EstMin {
			return 0, false
		}
		return a.vbrSizeTotal / float64(a.vbrCount), true
	}
	if !a.cbrReady {
		return 0, false
	}
	return 8 * float64(a.sampleRate) * float64(a.bytesPerPacket) * float64(a.framesPerPacket), true
}

// Duration implements the three-tier estimate of spec.md §4.11:
//  1. parser-reported packet count, if known and not the sentinel;
//  2. total_audio_packets from §4.8's bisection, if not the sentinel;
//  3. fall back to (file_length - data_offset) / (bitrate / 8).
func Duration(parserPacketCount int64, parserPacketCountKnown bool, totalAudioPackets int64, framesPerPacket, sampleRate int, fileLength, dataOffset int64, bitrateBPS float64) (seconds float64, ok bool) {
	packetCount := int64(-1)
	switch {
	case parserPacketCountKnown && parserPacketCount != Sentinel:
		packetCount = parserPacketCount
	case totalAudioPackets != Sentinel && totalAudioPackets > 0:
		packetCount = totalAudioPackets
	}

	if packetCount >= 0 && sampleRate > 0 {
		return float64(packetCount) * float64(framesPerPacket) / float64(sampleRate), true
	}

	if bitrateBPS <= 0 || fileLength <= dataOffset {
		return 0, false
	}
	return float64(fileLength-dataOffset) / (bitrateBPS / 8), true
}

// Progress implements progress(): seek_time plus the queue's reported
// sample time converted to seconds, floored at 0. When stopped, the last
// known progress is returned unchanged.
func Progress(seekTime, queueSampleTime float64, sampleRate int, stopped bool, lastProgress float64) float64 {
	if stopped || sampleRate <= 0 {
		return lastProgress
	}
	p := seekTime + queueSampleTime/float64(sampleRate)
	if p < 0 {
		p = 0
	}
	return p
}
