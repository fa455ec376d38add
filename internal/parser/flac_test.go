package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/flac/frame"
)

func TestFLACParser_InvalidStreamSurfacesDecodeErrorOnClose(t *testing.T) {
	t.Parallel()

	p := newFLACParser(1024, Callbacks{})
	require.NoError(t, p.ParseBytes([]byte("not a flac stream at all")))

	err := p.Close()
	require.Error(t, err, "decodeLoop must reject data with no fLaC magic")
}

func TestFLACParser_ParseBytesIgnoresEmptyInput(t *testing.T) {
	t.Parallel()

	p := newFLACParser(1024, Callbacks{})
	require.NoError(t, p.ParseBytes(nil))
	require.NoError(t, p.Close())
}

func TestFLACParser_SeekByPacketUnsupported(t *testing.T) {
	t.Parallel()

	p := newFLACParser(1024, Callbacks{})
	_, ok := p.SeekByPacket(3)
	assert.False(t, ok)
	require.NoError(t, p.Close())
}

func TestFLACParser_MagicCookieIsNil(t *testing.T) {
	t.Parallel()

	p := newFLACParser(1024, Callbacks{})
	assert.Nil(t, p.MagicCookie())
	require.NoError(t, p.Close())
}

func TestFLACParser_CloseUnblocksPendingWriteAfterDecodeError(t *testing.T) {
	t.Parallel()

	p := newFLACParser(1024, Callbacks{})
	require.NoError(t, p.ParseBytes([]byte("garbage")))

	done := make(chan struct{})
	go func() {
		_ = p.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return: decodeLoop goroutine likely stuck")
	}
}

func TestInterleavePCM_EmptySubframesReturnsNil(t *testing.T) {
	t.Parallel()

	out := interleavePCM(&frame.Frame{}, 2)
	assert.Nil(t, out)
}
