// Package config provides configuration types and defaults for splice.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default constants
const (
	// DefaultFFmpegPath is the transcoding engine binary.
	DefaultFFmpegPath = "ffmpeg"

	// DefaultFFprobePath is the probing binary.
	DefaultFFprobePath = "ffprobe"

	// DefaultVideoCodec is the video encoder used by the re-encode path.
	DefaultVideoCodec = "libx264"

	// DefaultVideoPreset is the encoder speed preset used by the re-encode path.
	DefaultVideoPreset = "fast"

	// DefaultVideoCRF is the constant-quality value used by the re-encode path.
	DefaultVideoCRF uint8 = 23

	// DefaultAudioCodec is the audio encoder used by the re-encode path.
	DefaultAudioCodec = "aac"

	// DefaultAudioBitrate is the fixed audio bitrate used by the re-encode path.
	DefaultAudioBitrate = "192k"

	// DefaultValidateEndPercent is where the validating allotment ends and
	// processing begins.
	DefaultValidateEndPercent uint8 = 20

	// DefaultEncodeStartPercent is the percent reported when the engine starts.
	DefaultEncodeStartPercent uint8 = 25

	// DefaultEncodeEndPercent is the percent reported when the engine reaches 100%.
	// The remainder up to 100 is reserved for finalization.
	DefaultEncodeEndPercent uint8 = 95

	// DefaultProbeTimeout bounds a single ffprobe call.
	DefaultProbeTimeout = 30 * time.Second

	// DefaultListenAddr is the address the HTTP API binds to. Loopback only;
	// set SPLICE_LISTEN_ADDR to expose the API on other interfaces.
	DefaultListenAddr = "127.0.0.1:8085"

	// DefaultAllowedOrigins is the CORS origin list for the HTTP API. Empty
	// rejects every cross-origin request.
	DefaultAllowedOrigins = ""

	// DefaultLogLevel is the default logging level name.
	DefaultLogLevel = "info"

	// DefaultSubscriberBuffer is the channel buffer for progress subscribers.
	DefaultSubscriberBuffer = 16

	// MaxCRF is the maximum valid x264 CRF value.
	MaxCRF uint8 = 51
)

// Environment variable names read by Load.
const (
	EnvFFmpegPath   = "SPLICE_FFMPEG"
	EnvFFprobePath  = "SPLICE_FFPROBE"
	EnvTempDir      = "SPLICE_TEMP_DIR"
	EnvVideoCodec   = "SPLICE_VIDEO_CODEC"
	EnvVideoPreset  = "SPLICE_VIDEO_PRESET"
	EnvVideoCRF     = "SPLICE_VIDEO_CRF"
	EnvAudioCodec   = "SPLICE_AUDIO_CODEC"
	EnvAudioBitrate = "SPLICE_AUDIO_BITRATE"
	EnvListenAddr   = "SPLICE_LISTEN_ADDR"
	EnvLogLevel     = "SPLICE_LOG_LEVEL"
	EnvOrigins      = "SPLICE_ALLOWED_ORIGINS"
	EnvVerifyOutput = "SPLICE_VERIFY_OUTPUT"
)

// Config holds all configuration for concatenation jobs.
type Config struct {
	// Engine binaries
	FFmpegPath  string
	FFprobePath string

	// TempDir holds the concat manifest and sandbox scratch space.
	TempDir string

	// Re-encode preset. Output parameters come from these values only,
	// never from the inputs.
	VideoCodec   string
	VideoPreset  string
	VideoCRF     uint8
	AudioCodec   string
	AudioBitrate string

	// Progress split points (percent)
	ValidateEndPercent uint8
	EncodeStartPercent uint8
	EncodeEndPercent   uint8

	ProbeTimeout time.Duration

	// VerifyOutput probes the joined file and logs any mismatch with the
	// inputs. A mismatch never fails the job.
	VerifyOutput bool

	// HTTP API
	ListenAddr string
	// AllowedOrigins is a comma separated CORS origin list; "*" allows any
	// and empty allows none.
	AllowedOrigins string

	LogLevel         string
	SubscriberBuffer int
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		FFmpegPath:         DefaultFFmpegPath,
		FFprobePath:        DefaultFFprobePath,
		TempDir:            os.TempDir(),
		VideoCodec:         DefaultVideoCodec,
		VideoPreset:        DefaultVideoPreset,
		VideoCRF:           DefaultVideoCRF,
		AudioCodec:         DefaultAudioCodec,
		AudioBitrate:       DefaultAudioBitrate,
		ValidateEndPercent: DefaultValidateEndPercent,
		EncodeStartPercent: DefaultEncodeStartPercent,
		EncodeEndPercent:   DefaultEncodeEndPercent,
		ProbeTimeout:       DefaultProbeTimeout,
		VerifyOutput:       true,
		ListenAddr:         DefaultListenAddr,
		AllowedOrigins:     DefaultAllowedOrigins,
		LogLevel:           DefaultLogLevel,
		SubscriberBuffer:   DefaultSubscriberBuffer,
	}
}

// Load returns defaults overlaid with values from envFile (if it exists) and
// then from the process environment. Process environment wins.
func Load(envFile string) (*Config, error) {
	cfg := NewConfig()

	fileVals := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEnvFile, envFile, err)
		}
		if vals != nil {
			fileVals = vals
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{EnvFFmpegPath, &c.FFmpegPath},
		{EnvFFprobePath, &c.FFprobePath},
		{EnvTempDir, &c.TempDir},
		{EnvVideoCodec, &c.VideoCodec},
		{EnvVideoPreset, &c.VideoPreset},
		{EnvAudioCodec, &c.AudioCodec},
		{EnvAudioBitrate, &c.AudioBitrate},
		{EnvListenAddr, &c.ListenAddr},
		{EnvOrigins, &c.AllowedOrigins},
		{EnvLogLevel, &c.LogLevel},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && strings.TrimSpace(v) != "" {
			*s.dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup(EnvVideoCRF); ok && strings.TrimSpace(v) != "" {
		crf, err := strconv.ParseUint(strings.TrimSpace(v), 10, 8)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidCRF, EnvVideoCRF, v)
		}
		c.VideoCRF = uint8(crf)
	}

	if v, ok := lookup(EnvVerifyOutput); ok && strings.TrimSpace(v) != "" {
		verify, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidEnvValue, EnvVerifyOutput, v)
		}
		c.VerifyOutput = verify
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.FFmpegPath == "" || c.FFprobePath == "" {
		return fmt.Errorf("%w: ffmpeg and ffprobe paths must be set", ErrMissingBinary)
	}

	if c.VideoCRF > MaxCRF {
		return fmt.Errorf("%w: must be 0-%d, got %d", ErrInvalidCRF, MaxCRF, c.VideoCRF)
	}

	if c.VideoCodec == "" || c.AudioCodec == "" || c.AudioBitrate == "" {
		return fmt.Errorf("%w: video codec, audio codec and audio bitrate are required", ErrInvalidPreset)
	}

	if c.ValidateEndPercent == 0 ||
		c.ValidateEndPercent > c.EncodeStartPercent ||
		c.EncodeStartPercent >= c.EncodeEndPercent ||
		c.EncodeEndPercent >= 100 {
		return fmt.Errorf("%w: need 0 < validate(%d) <= encode start(%d) < encode end(%d) < 100",
			ErrInvalidProgressSplit, c.ValidateEndPercent, c.EncodeStartPercent, c.EncodeEndPercent)
	}

	if c.SubscriberBuffer < 1 {
		return fmt.Errorf("%w: subscriber buffer must be at least 1, got %d", ErrInvalidBuffer, c.SubscriberBuffer)
	}

	return nil
}

// GetTempDir returns the temp directory, falling back to the OS default if not set.
func (c *Config) GetTempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return os.TempDir()
}
