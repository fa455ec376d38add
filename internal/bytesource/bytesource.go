// Package bytesource implements the Byte Source of spec.md §4.1: a single
// HTTP/1.1 GET, optionally resumed with a Range header, delivering
// event-driven byte chunks to the Streamer's run loop.
package bytesource

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/streamcore/internal/errors"
	"github.com/tphakala/streamcore/internal/httpclient"
)

// EventKind distinguishes a Source event.
type EventKind int

const (
	EventBytesAvailable EventKind = iota
	EventEnd
	EventError
)

// Event mirrors the Byte Source's callbacks: BytesAvailable,
// EndEncountered, ErrorOccurred.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// OpenResult carries the response metadata the Streamer needs before any
// body bytes arrive: the Content-Type (for file-type resolution) and
// Content-Length (for file_length, when the request started at offset 0).
type OpenResult struct {
	ContentType   string
	ContentLength int64 // -1 when unknown (chunked transfer, etc.)
}

// Source opens one HTTP GET and streams its body as fixed-size chunks.
type Source struct {
	client    *httpclient.Client
	url       string
	chunkSize int

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool

	events chan Event
}

// New constructs a Source. chunkSize should be max(packet_buffer_size,
// 2048) per spec.md §4.1.
func New(client *httpclient.Client, url string, chunkSize int) *Source {
	if chunkSize <= 0 {
		chunkSize = 2048
	}
	return &Source{client: client, url: url, chunkSize: chunkSize, events: make(chan Event, 16)}
}

// Events returns the channel the Streamer's run loop drains.
func (s *Source) Events() <-chan Event { return s.events }

// Open issues the GET, optionally with a Range header when rangeOffset is
// positive and fileLength is known, then spawns the goroutine that reads
// the body and emits Events. It blocks only long enough to receive
// response headers (mirroring the synchronous "open" step of spec.md
// §4.1; the byte delivery itself is fully event-driven).
func (s *Source) Open(ctx context.Context, rangeOffset, fileLength int64) (OpenResult, error) {
	runCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(runCtx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return OpenResult{}, errors.Wrap(err).
			Component("bytesource").
			Category(errors.CategoryNetwork).
			Build()
	}
	if rangeOffset > 0 && fileLength > 0 {
		req.Header.Set("Range", httpclient.FormatRange(rangeOffset, fileLength))
	}

	resp, err := s.client.Do(runCtx, req)
	if err != nil {
		cancel()
		return OpenResult{}, errors.New(err).
			Component("bytesource").
			Category(errors.CategoryNetwork).
			Context("url", s.url).
			Build()
	}

	s.mu.Lock()
	s.cancel = cancel
	s.closed = false
	s.mu.Unlock()

	go s.readLoop(runCtx, resp)

	return OpenResult{ContentType: resp.Header.Get("Content-Type"), ContentLength: resp.ContentLength}, nil
}

func (s *Source) readLoop(ctx context.Context, resp *http.Response) {
	defer resp.Body.Close()

	rb := ringbuffer.New(s.chunkSize * 4)
	raw := make([]byte, s.chunkSize)

	for {
		n, rerr := resp.Body.Read(raw)
		if n > 0 {
			if _, werr := rb.Write(raw[:n]); werr != nil {
				s.emit(ctx, Event{Kind: EventError, Err: werr})
				return
			}
			for rb.Length() >= s.chunkSize {
				chunk := make([]byte, s.chunkSize)
				if _, err := rb.Read(chunk); err != nil {
					s.emit(ctx, Event{Kind: EventError, Err: err})
					return
				}
				if !s.emit(ctx, Event{Kind: EventBytesAvailable, Data: chunk}) {
					return
				}
			}
		}

		if rerr != nil {
			if rerr == io.EOF {
				if remaining := rb.Length(); remaining > 0 {
					tail := make([]byte, remaining)
					if _, err := rb.Read(tail); err == nil {
						s.emit(ctx, Event{Kind: EventBytesAvailable, Data: tail})
					}
				}
				s.emit(ctx, Event{Kind: EventEnd})
				return
			}
			s.emit(ctx, Event{Kind: EventError, Err: rerr})
			return
		}
	}
}

// emit delivers an event, respecting cancellation so a Close() mid-send
// can't leak this goroutine. Returns false once the context is done.
func (s *Source) emit(ctx context.Context, e Event) bool {
	select {
	case s.events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close tears down the in-flight request. Idempotent.
func (s *Source) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
