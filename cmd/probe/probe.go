package probe

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/streamcore/internal/conf"
	"github.com/tphakala/streamcore/internal/events"
	"github.com/tphakala/streamcore/internal/streamer"
)

// Command creates the probe command: it opens a URL in the Streamer's
// probe mode (format/bitrate resolution only, no audio device ever
// created) just long enough to report the detected format, state
// transitions, and bitrate estimate, then stops. Useful for checking a
// URL without committing to full playback or requiring a usable output
// device on the host running the check.
func Command(settings *conf.Settings) *cobra.Command {
	var maxWait time.Duration

	cmd := &cobra.Command{
		Use:   "probe [url]",
		Short: "Inspect a network audio URL without playing it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), maxWait)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

			settings.URL = args[0]
			return run(ctx, sigChan, settings)
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cmd.Flags().DurationVar(&maxWait, "max-wait", 15*time.Second, "Stop probing after this long even if the bitrate never becomes estimable")
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// probeConsumer prints each event as it arrives and signals done once a
// bitrate estimate shows up or the stream reaches a terminal state.
type probeConsumer struct {
	done     chan struct{}
	doneOnce sync.Once
}

func (p *probeConsumer) Name() string { return "probe" }

func (p *probeConsumer) ProcessEvent(ev events.Event) error {
	switch ev.Kind {
	case events.KindStatusChanged:
		fmt.Printf("state: %s", ev.State)
		if ev.Reason != "" {
			fmt.Printf(" (%s)", ev.Reason)
		}
		if ev.ErrorText != "" {
			fmt.Printf(": %s", ev.ErrorText)
		}
		fmt.Println()
		if ev.State == "done" || ev.State == "stopped" {
			p.doneOnce.Do(func() { close(p.done) })
		}
	case events.KindBitrateReady:
		fmt.Printf("bitrate: %.0f bps\n", ev.BitRate)
		p.doneOnce.Do(func() { close(p.done) })
	}
	return nil
}

func run(ctx context.Context, sigChan chan os.Signal, settings *conf.Settings) error {
	bus := events.NewBus(64)
	defer bus.Close()

	consumer := &probeConsumer{done: make(chan struct{})}
	bus.Subscribe(consumer)

	s := streamer.New(settings.URL, bus).
		BufferCount(settings.BufferCount).
		BufferSize(settings.BufferSize).
		TimeoutInterval(settings.TimeoutInterval).
		Probe()
	defer s.Close()

	if !s.Start() {
		return fmt.Errorf("probe: streamer already started")
	}

	select {
	case <-ctx.Done():
		fmt.Println("probe: timed out waiting for a bitrate estimate")
	case <-consumer.done:
	case sig := <-sigChan:
		fmt.Printf("\nreceived signal %v, stopping...\n", sig)
	}

	s.Stop()
	return nil
}
