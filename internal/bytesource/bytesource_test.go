package bytesource

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/streamcore/internal/httpclient"
)

func newTestClient() *httpclient.Client {
	return httpclient.New(&httpclient.Config{DefaultTimeout: 5 * time.Second})
}

func drainEvents(t *testing.T, s *Source, timeout time.Duration) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-s.Events():
			events = append(events, ev)
			if ev.Kind == EventEnd || ev.Kind == EventError {
				return events
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal event")
		}
	}
}

func TestSource_Open_ReportsContentTypeAndLength(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	s := New(newTestClient(), srv.URL, 16)
	defer s.Close()

	result, err := s.Open(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", result.ContentType)
	assert.EqualValues(t, len(body), result.ContentLength)

	events := drainEvents(t, s, 2*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, EventEnd, events[len(events)-1].Kind)

	var total int
	for _, ev := range events {
		if ev.Kind == EventBytesAvailable {
			total += len(ev.Data)
		}
	}
	assert.Equal(t, len(body), total, "all body bytes must be delivered across chunk events")
}

func TestSource_Open_ChunksAtConfiguredSize(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("y", 37)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	s := New(newTestClient(), srv.URL, 10)
	defer s.Close()

	_, err := s.Open(context.Background(), 0, 0)
	require.NoError(t, err)

	events := drainEvents(t, s, 2*time.Second)
	var chunkSizes []int
	for _, ev := range events {
		if ev.Kind == EventBytesAvailable {
			chunkSizes = append(chunkSizes, len(ev.Data))
		}
	}
	require.Len(t, chunkSizes, 4, "37 bytes at chunk size 10: three full chunks plus a 7-byte tail")
	for _, n := range chunkSizes[:3] {
		assert.Equal(t, 10, n)
	}
	assert.Equal(t, 7, chunkSizes[3])
}

func TestSource_Open_SendsRangeHeaderWhenResuming(t *testing.T) {
	t.Parallel()

	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Write([]byte("tail-bytes"))
	}))
	defer srv.Close()

	s := New(newTestClient(), srv.URL, 16)
	defer s.Close()

	_, err := s.Open(context.Background(), 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, "bytes=100-999", gotRange)
}

func TestSource_Open_NoRangeHeaderFromZeroOffset(t *testing.T) {
	t.Parallel()

	var gotRange string
	gotRangeSet := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange, gotRangeSet = r.Header.Get("Range"), r.Header.Get("Range") != ""
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	s := New(newTestClient(), srv.URL, 16)
	defer s.Close()

	_, err := s.Open(context.Background(), 0, 1000)
	require.NoError(t, err)
	assert.False(t, gotRangeSet, "no range header when rangeOffset is 0")
	assert.Empty(t, gotRange)
}

func TestSource_Open_ServerErrorSurfacesAsOpenError(t *testing.T) {
	t.Parallel()

	s := New(newTestClient(), "http://127.0.0.1:1/does-not-exist", 16)
	defer s.Close()

	_, err := s.Open(context.Background(), 0, 0)
	require.Error(t, err)
}

func TestSource_Close_IsIdempotent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("abc"))
	}))
	defer srv.Close()

	s := New(newTestClient(), srv.URL, 16)
	_, err := s.Open(context.Background(), 0, 0)
	require.NoError(t, err)

	s.Close()
	s.Close() // must not panic or block
}

func TestNew_ZeroChunkSizeFallsBackToDefault(t *testing.T) {
	t.Parallel()

	s := New(newTestClient(), "http://example.invalid", 0)
	assert.Equal(t, 2048, s.chunkSize)
}

func TestSource_Open_BodyReadErrorEmitsErrorEvent(t *testing.T) {
	t.Parallel()

	// A server that advertises more bytes than it sends, then hangs up,
	// forces the client's body Read to return a non-EOF error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		fmt.Fprint(w, "short")
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
			}
		}
	}))
	defer srv.Close()

	s := New(newTestClient(), srv.URL, 16)
	defer s.Close()

	_, err := s.Open(context.Background(), 0, 0)
	require.NoError(t, err)

	events := drainEvents(t, s, 2*time.Second)
	assert.Equal(t, EventError, events[len(events)-1].Kind)
}
