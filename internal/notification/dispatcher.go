// Package notification pushes Streamer lifecycle events — status
// transitions and bitrate-ready — to external services over
// nicholas-fedor/shoutrrr, with bounded retry on transient delivery
// failures. It subscribes to the streamer's events.Bus as a plain
// events.Consumer, so a Streamer never depends on this package directly.
package notification

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"

	streamerrors "github.com/tphakala/streamcore/internal/errors"
	"github.com/tphakala/streamcore/internal/events"
	"github.com/tphakala/streamcore/internal/logging"
)

// Config configures one Dispatcher. URLs are shoutrrr service URLs (e.g.
// "telegram://token@telegram?chats=@channel", "discord://webhook").
type Config struct {
	URLs       []string
	MaxRetries int
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	return c
}

// Dispatcher is an events.Consumer that relays status changes and
// bitrate-ready notifications to every configured shoutrrr URL.
type Dispatcher struct {
	cfg    Config
	sender *router.ServiceRouter
	logger *slog.Logger
}

// NewDispatcher builds a Dispatcher from cfg. Returns an error if any URL
// fails shoutrrr's own validation (unknown scheme, missing required
// fields) — this mirrors create_queue()'s own fail-fast-on-construction
// style rather than deferring the error to the first Send.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	cfg = cfg.withDefaults()
	if len(cfg.URLs) == 0 {
		return nil, streamerrors.Newf("notification: no URLs configured").
			Component("notification").
			Category(streamerrors.CategoryValidation).
			Build()
	}

	sender, err := shoutrrr.CreateSender(cfg.URLs...)
	if err != nil {
		return nil, streamerrors.New(err).
			Component("notification").
			Category(streamerrors.CategoryConfig).
			Context("operation", "create_sender").
			Build()
	}

	return &Dispatcher{
		cfg:    cfg,
		sender: sender,
		logger: logging.ForService("notification"),
	}, nil
}

// Name satisfies events.Consumer.
func (d *Dispatcher) Name() string { return "notification" }

// ProcessEvent satisfies events.Consumer: formats ev and sends it to every
// configured URL, retrying transient (network/timeout) failures up to
// MaxRetries times with a fixed delay between attempts.
func (d *Dispatcher) ProcessEvent(ev events.Event) error {
	msg := formatMessage(ev)

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if err := d.send(msg); err != nil {
			lastErr = err
			if !isRetryable(err) {
				break
			}
			if attempt < d.cfg.MaxRetries {
				time.Sleep(d.cfg.RetryDelay)
				continue
			}
			break
		}
		return nil
	}

	d.logger.Error("notification delivery failed", "kind", string(ev.Kind), "stream_id", ev.StreamID, "error", lastErr)
	return lastErr
}

func (d *Dispatcher) send(msg string) error {
	errs := d.sender.Send(msg, nil)
	var joined []error
	for _, err := range errs {
		if err != nil {
			joined = append(joined, err)
		}
	}
	if len(joined) == 0 {
		return nil
	}
	return errors.Join(joined...)
}

// formatMessage renders ev as a one-line human-readable message; the two
// Kinds events.Bus carries today (spec.md's StatusChanged/BitrateReady)
// are the only ones formatted, matching the event set the Streamer
// actually publishes.
func formatMessage(ev events.Event) string {
	var b strings.Builder
	switch ev.Kind {
	case events.KindStatusChanged:
		fmt.Fprintf(&b, "stream %s: %s", ev.StreamID, ev.State)
		if ev.Reason != "" {
			fmt.Fprintf(&b, " (%s)", ev.Reason)
		}
		if ev.ErrorText != "" {
			fmt.Fprintf(&b, ": %s", ev.ErrorText)
		}
	case events.KindBitrateReady:
		fmt.Fprintf(&b, "stream %s: bitrate estimate ready: %.0f bps", ev.StreamID, ev.BitRate)
	default:
		fmt.Fprintf(&b, "stream %s: %s", ev.StreamID, ev.Kind)
	}
	return b.String()
}

// isRetryable classifies network timeouts and temporary errors as worth
// retrying; anything else (a malformed URL, an auth rejection) would fail
// identically on every attempt.
func isRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return strings.Contains(err.Error(), "timeout") || strings.Contains(err.Error(), "connection refused")
}
