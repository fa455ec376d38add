// Package conf loads the streaming core's configuration from a YAML file,
// environment variables (STREAMCORE_*), and command-line flags, in that
// order of increasing precedence, via viper.
package conf

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/streamcore/internal/httpclient"
)

// FileType is a recognized audio container/codec hint, derived from
// Content-Type, URL extension, or defaulted to MP3.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeMP3
	FileTypeWAV
	FileTypeAIFF
	FileTypeM4A
	FileTypeMPEG4
	FileTypeCAF
	FileTypeAACADTS
	FileTypeFLAC
)

func (t FileType) String() string {
	switch t {
	case FileTypeMP3:
		return "mp3"
	case FileTypeWAV:
		return "wav"
	case FileTypeAIFF:
		return "aiff"
	case FileTypeM4A:
		return "m4a"
	case FileTypeMPEG4:
		return "mp4"
	case FileTypeCAF:
		return "caf"
	case FileTypeAACADTS:
		return "aac"
	case FileTypeFLAC:
		return "flac"
	default:
		return "unknown"
	}
}

// mimeToFileType maps recognized Content-Type values (spec.md §6).
var mimeToFileType = map[string]FileType{
	"audio/mpeg":   FileTypeMP3,
	"audio/x-wav":  FileTypeWAV,
	"audio/wav":    FileTypeWAV,
	"audio/x-aiff": FileTypeAIFF,
	"audio/x-m4a":  FileTypeM4A,
	"audio/mp4":    FileTypeMPEG4,
	"audio/x-caf":  FileTypeCAF,
	"audio/aac":    FileTypeAACADTS,
	"audio/aacp":   FileTypeAACADTS,
	"audio/x-flac": FileTypeFLAC,
	"audio/flac":   FileTypeFLAC,
}

// extToFileType maps recognized URL extensions (spec.md §6).
var extToFileType = map[string]FileType{
	"mp3":  FileTypeMP3,
	"wav":  FileTypeWAV,
	"aifc": FileTypeAIFF,
	"aiff": FileTypeAIFF,
	"m4a":  FileTypeM4A,
	"mp4":  FileTypeMPEG4,
	"caf":  FileTypeCAF,
	"aac":  FileTypeAACADTS,
	"flac": FileTypeFLAC,
}

// FileTypeFromMIME resolves a Content-Type header value to a FileType.
// The second return is false when the MIME type is unrecognized.
func FileTypeFromMIME(mime string) (FileType, bool) {
	mime = strings.ToLower(strings.TrimSpace(strings.Split(mime, ";")[0]))
	t, ok := mimeToFileType[mime]
	return t, ok
}

// FileTypeFromExtension resolves a URL path extension (without the dot) to
// a FileType.
func FileTypeFromExtension(ext string) (FileType, bool) {
	t, ok := extToFileType[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return t, ok
}

// Settings holds the full, resolved configuration for one Streamer.
// Fields map directly onto spec.md §3's "Configuration" block, plus the
// proxy selection of §4.1 and the ambient logging/telemetry knobs.
type Settings struct {
	URL string `mapstructure:"url"`

	BufferCount    int           `mapstructure:"buffer_count"`
	BufferSize     int           `mapstructure:"buffer_size"`
	TimeoutInterval time.Duration `mapstructure:"timeout_interval"`
	PlaybackRate   float64       `mapstructure:"playback_rate"`
	BufferInfinite bool          `mapstructure:"buffer_infinite"`
	FileType       FileType      `mapstructure:"-"`

	Proxy httpclient.ProxyConfig `mapstructure:"-"`

	Debug             bool `mapstructure:"debug"`
	TelemetryEnabled  bool `mapstructure:"telemetry_enabled"`

	// NotificationURL is a shoutrrr service URL; empty disables notification
	// dispatch entirely. See internal/notification.
	NotificationURL string `mapstructure:"notification_url"`
}

// Defaults returns the spec.md §3 default configuration.
func Defaults() Settings {
	return Settings{
		BufferCount:     16,
		BufferSize:      2048,
		TimeoutInterval: 10 * time.Second,
		PlaybackRate:    1.0,
		BufferInfinite:  false,
	}
}

var (
	loadOnce sync.Once
	loaded   Settings
	loadErr  error
)

// Load reads configuration from (in ascending precedence) built-in
// defaults, a "streamcore.yaml" file on the viper search path, and
// STREAMCORE_*-prefixed environment variables. Load reads through its own
// viper instance, so flags bound on the global viper with viper.BindPFlag
// do not affect the Settings it returns.
func Load(configPaths ...string) (Settings, error) {
	loadOnce.Do(func() {
		v := viper.New()
		v.SetEnvPrefix("STREAMCORE")
		v.AutomaticEnv()

		d := Defaults()
		v.SetDefault("buffer_count", d.BufferCount)
		v.SetDefault("buffer_size", d.BufferSize)
		v.SetDefault("timeout_interval", d.TimeoutInterval)
		v.SetDefault("playback_rate", d.PlaybackRate)
		v.SetDefault("buffer_infinite", d.BufferInfinite)
		v.SetDefault("debug", d.Debug)
		v.SetDefault("telemetry_enabled", d.TelemetryEnabled)
		v.SetDefault("notification_url", d.NotificationURL)

		v.SetConfigName("streamcore")
		v.SetConfigType("yaml")
		for _, p := range configPaths {
			v.AddConfigPath(p)
		}
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				loadErr = fmt.Errorf("conf: reading config: %w", err)
				return
			}
		}

		var s Settings
		if err := v.Unmarshal(&s); err != nil {
			loadErr = fmt.Errorf("conf: unmarshalling config: %w", err)
			return
		}
		loaded = s
	})
	return loaded, loadErr
}

// Validate checks invariants the Streamer assumes hold before start().
func (s Settings) Validate() error {
	if s.BufferCount <= 0 {
		return fmt.Errorf("conf: buffer_count must be positive, got %d", s.BufferCount)
	}
	if s.BufferSize <= 0 {
		return fmt.Errorf("conf: buffer_size must be positive, got %d", s.BufferSize)
	}
	if s.TimeoutInterval <= 0 {
		return fmt.Errorf("conf: timeout_interval must be positive, got %s", s.TimeoutInterval)
	}
	if s.PlaybackRate <= 0 {
		return fmt.Errorf("conf: playback_rate must be positive, got %f", s.PlaybackRate)
	}
	return nil
}

// UpdateFileValue patches a single dotted key (e.g. "buffer_count") in a
// YAML config file in place, preserving every other key, comment, and
// formatting decision in the file. It round-trips through yaml.Node rather
// than Settings so a caller can update one field of a hand-edited config
// file without clobbering the rest of it.
func UpdateFileValue(configFilePath, key string, value any) error {
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("conf: reading config file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("conf: unmarshalling config file: %w", err)
	}
	if len(doc.Content) == 0 {
		return fmt.Errorf("conf: config file %s has no YAML document", configFilePath)
	}

	node := findMappingValue(doc.Content[0], key)
	if node == nil {
		return fmt.Errorf("conf: key %q not found in config file", key)
	}
	node.Value = fmt.Sprintf("%v", value)
	node.Tag = ""

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("conf: marshalling updated config: %w", err)
	}
	if err := os.WriteFile(configFilePath, out, 0o644); err != nil {
		return fmt.Errorf("conf: writing config file: %w", err)
	}
	return nil
}

// findMappingValue walks a dotted key path ("a.b.c") through nested YAML
// mapping nodes and returns the scalar value node at the end, or nil if any
// segment is missing.
func findMappingValue(n *yaml.Node, dottedKey string) *yaml.Node {
	segments := strings.Split(dottedKey, ".")
	cur := n
	for i, seg := range segments {
		if cur.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for j := 0; j+1 < len(cur.Content); j += 2 {
			if cur.Content[j].Value == seg {
				next = cur.Content[j+1]
				break
			}
		}
		if next == nil {
			return nil
		}
		if i == len(segments)-1 {
			return next
		}
		cur = next
	}
	return nil
}
