package notification

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/streamcore/internal/events"
)

func TestNewDispatcher_RequiresURLs(t *testing.T) {
	_, err := NewDispatcher(Config{})
	require.Error(t, err)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{URLs: []string{"generic+https://example.invalid/hook"}}.withDefaults()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)

	cfg = Config{URLs: []string{"x"}, MaxRetries: 5, RetryDelay: time.Second}.withDefaults()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryDelay)
}

func TestFormatMessage_StatusChanged(t *testing.T) {
	msg := formatMessage(events.Event{
		Kind:     events.KindStatusChanged,
		StreamID: "abc",
		State:    "Playing",
		Reason:   "queue_running",
	})
	assert.Contains(t, msg, "abc")
	assert.Contains(t, msg, "Playing")
	assert.Contains(t, msg, "queue_running")
}

func TestFormatMessage_StatusChangedWithError(t *testing.T) {
	msg := formatMessage(events.Event{
		Kind:      events.KindStatusChanged,
		StreamID:  "abc",
		State:     "Done",
		Reason:    "error",
		ErrorText: "connection reset",
	})
	assert.Contains(t, msg, "connection reset")
}

func TestFormatMessage_BitrateReady(t *testing.T) {
	msg := formatMessage(events.Event{
		Kind:     events.KindBitrateReady,
		StreamID: "abc",
		BitRate:  128000,
	})
	assert.Contains(t, msg, "128000")
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	var netErr net.Error = timeoutErr{}
	assert.True(t, isRetryable(netErr))
	assert.True(t, isRetryable(errors.New("dial tcp: connection refused")))
	assert.False(t, isRetryable(errors.New("invalid webhook url")))
}

