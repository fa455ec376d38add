// root.go viper root command code
package cmd

import (
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/streamcore/cmd/play"
	"github.com/tphakala/streamcore/cmd/probe"
	"github.com/tphakala/streamcore/internal/conf"
	"github.com/tphakala/streamcore/internal/logging"
	"github.com/tphakala/streamcore/internal/metrics"
)

// RootCommand creates and returns the root command.
func RootCommand() *cobra.Command {
	settings := conf.Defaults()

	rootCmd := &cobra.Command{
		Use:   "streamcore",
		Short: "streamcore network audio streaming CLI",
	}

	if err := setupFlags(rootCmd, &settings); err != nil {
		log.Printf("error setting up flags: %v\n", err)
	}

	playCmd := play.Command(&settings)
	probeCmd := probe.Command(&settings)

	rootCmd.AddCommand(playCmd, probeCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(&settings)
	}

	return rootCmd
}

// initialize sets up process-wide state shared by every subcommand:
// structured logging and Prometheus metrics. It runs once per process, as
// the root command's PersistentPreRunE: logging.Init and metrics.Init ignore
// repeat calls, but metrics.New registers its collectors on the default
// registerer and panics if they are already registered.
func initialize(settings *conf.Settings) error {
	logging.Init(logging.Config{})
	if settings.TelemetryEnabled {
		metrics.Init(metrics.New(prometheus.DefaultRegisterer))
	}
	return nil
}

// setupFlags defines flags global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().BoolVar(&settings.TelemetryEnabled, "telemetry", viper.GetBool("telemetry_enabled"), "Enable Prometheus metrics collection")
	rootCmd.PersistentFlags().IntVar(&settings.BufferCount, "buffer-count", viper.GetInt("buffer_count"), "Number of audio buffers to keep in flight")
	rootCmd.PersistentFlags().IntVar(&settings.BufferSize, "buffer-size", viper.GetInt("buffer_size"), "Size in bytes of each audio buffer")
	rootCmd.PersistentFlags().DurationVar(&settings.TimeoutInterval, "timeout", viper.GetDuration("timeout_interval"), "Watchdog timeout for stalled network events")
	rootCmd.PersistentFlags().StringVar(&settings.NotificationURL, "notify", viper.GetString("notification_url"), "shoutrrr URL to receive status/bitrate notifications (optional)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
