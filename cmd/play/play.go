package play

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/streamcore/internal/conf"
	"github.com/tphakala/streamcore/internal/events"
	"github.com/tphakala/streamcore/internal/notification"
	"github.com/tphakala/streamcore/internal/streamer"
)

// Command creates the play command for streaming a single URL to the
// default audio output device until it ends, is stopped, or errors out.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play [url]",
		Short: "Stream a network audio URL to the default output device",
		Long:  `Play opens a Shoutcast or plain HTTP audio URL, decodes it, and renders it through the platform audio queue until end of stream or interruption.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

			settings.URL = args[0]
			return run(ctx, cancel, sigChan, settings)
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().Float64Var(&settings.PlaybackRate, "rate", viper.GetFloat64("playback_rate"), "Playback rate multiplier")
	cmd.Flags().BoolVar(&settings.BufferInfinite, "buffer-infinite", viper.GetBool("buffer_infinite"), "Keep reading from the network instead of pausing it when all buffers are in flight")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func run(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal, settings *conf.Settings) error {
	bus := events.NewBus(64)
	defer bus.Close()

	if settings.NotificationURL != "" {
		dispatcher, err := notification.NewDispatcher(notification.Config{URLs: []string{settings.NotificationURL}})
		if err != nil {
			return fmt.Errorf("play: configuring notification dispatcher: %w", err)
		}
		bus.Subscribe(dispatcher)
	}

	s := streamer.New(settings.URL, bus).
		BufferCount(settings.BufferCount).
		BufferSize(settings.BufferSize).
		TimeoutInterval(settings.TimeoutInterval).
		PlaybackRate(settings.PlaybackRate).
		BufferInfinite(settings.BufferInfinite)
	defer s.Close()

	go func() {
		sig := <-sigChan
		fmt.Printf("\nreceived signal %v, stopping...\n", sig)
		s.Stop()
		cancel()
	}()

	if !s.Start() {
		return fmt.Errorf("play: streamer already started")
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reportProgress(s)
			if s.IsDone() {
				return reportOutcome(s)
			}
		}
	}
}

func reportProgress(s *streamer.Streamer) {
	pos, posOK := s.Progress()
	dur, durOK := s.Duration()
	bps, bpsOK := s.CalculatedBitRate()

	switch {
	case posOK && durOK:
		fmt.Printf("\r%6.1fs / %6.1fs", pos, dur)
	case posOK:
		fmt.Printf("\r%6.1fs", pos)
	default:
		fmt.Print("\rbuffering...")
	}
	if bpsOK {
		fmt.Printf("  %.0f bps", bps)
	}
}

func reportOutcome(s *streamer.Streamer) error {
	fmt.Println()
	switch s.DoneReason() {
	case streamer.DoneReasonStopped:
		fmt.Println("stopped")
		return nil
	case streamer.DoneReasonEOF:
		fmt.Println("end of stream")
		return nil
	case streamer.DoneReasonError:
		err := s.LastError()
		fmt.Printf("stream failed: %v\n", err)
		return err
	default:
		return nil
	}
}
