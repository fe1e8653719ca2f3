package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envVarListenAddr      = "PAIRWIRE_LISTEN_ADDR"
	envVarMode            = "PAIRWIRE_MODE"
	envVarLogFormat       = "PAIRWIRE_LOG_FORMAT"
	envVarLogLevel        = "PAIRWIRE_LOG_LEVEL"
	envVarShutdownTimeout = "PAIRWIRE_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Matchmaking knobs.
	envVarMatchSweepInterval = "MATCH_SWEEP_INTERVAL"
	envVarMaxRecentPairs     = "MAX_RECENT_PAIRS"

	// Session (room) lifecycle knobs.
	envVarSessionGraceUnjoined = "SESSION_GRACE_UNJOINED"
	envVarSessionGraceJoined   = "SESSION_GRACE_JOINED"

	// Transport hardening.
	envVarMaxEventBytes      = "MAX_EVENT_BYTES"
	envVarMaxEventsPerSecond = "MAX_EVENTS_PER_SECOND"
	envVarMaxVideoFrameBytes = "MAX_VIDEO_FRAME_BYTES"
	envVarMaxAudioFrameBytes = "MAX_AUDIO_FRAME_BYTES"
)

const (
	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdownTimeout      = 15 * time.Second
	DefaultMode            Mode = ModeDev

	// DefaultMatchSweepInterval is how often the hub attempts to pair the whole
	// waiting set, not just the newest arrival.
	DefaultMatchSweepInterval = 1 * time.Second
	DefaultMaxRecentPairs     = 50

	// DefaultSessionGraceUnjoined applies while no participant has confirmed an
	// in-room join yet; DefaultSessionGraceJoined applies afterwards, when the
	// occupants are mid-handoff between their waiting and in-call connections
	// and a disconnect is more likely to be transient.
	DefaultSessionGraceUnjoined = 5 * time.Second
	DefaultSessionGraceJoined   = 30 * time.Second

	DefaultMaxVideoFrameBytes = 10 << 20 // 10MiB
	DefaultMaxAudioFrameBytes = 1 << 20  // 1MiB

	// DefaultMaxEventBytes bounds a single inbound WebSocket message. It must
	// exceed the video frame cap so oversized frames are dropped by the relay
	// (a policy decision) rather than tearing down the connection.
	DefaultMaxEventBytes      = int64(DefaultMaxVideoFrameBytes + 64*1024)
	DefaultMaxEventsPerSecond = 60
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins restricts browser origins for the WebSocket upgrade and
	// CORS on the HTTP surface. Empty means allow any origin, matching the
	// permissive default the frontend is deployed with.
	AllowedOrigins []string

	MatchSweepInterval time.Duration
	MaxRecentPairs     int

	SessionGraceUnjoined time.Duration
	SessionGraceJoined   time.Duration

	MaxEventBytes      int64
	MaxEventsPerSecond int
	MaxVideoFrameBytes int
	MaxAudioFrameBytes int
}

// Load builds the configuration from the environment, with a small set of
// flag overrides for local runs. A .env file in the working directory is
// honored when present.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		ListenAddr:      envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),
		ShutdownTimeout: DefaultShutdownTimeout,

		MatchSweepInterval: DefaultMatchSweepInterval,
		MaxRecentPairs:     DefaultMaxRecentPairs,

		SessionGraceUnjoined: DefaultSessionGraceUnjoined,
		SessionGraceJoined:   DefaultSessionGraceJoined,

		MaxEventBytes:      DefaultMaxEventBytes,
		MaxEventsPerSecond: DefaultMaxEventsPerSecond,
		MaxVideoFrameBytes: DefaultMaxVideoFrameBytes,
		MaxAudioFrameBytes: DefaultMaxAudioFrameBytes,
	}

	mode, err := parseMode(envOrDefault(lookup, envVarMode, string(DefaultMode)))
	if err != nil {
		return Config{}, err
	}
	cfg.Mode = mode

	format, err := parseLogFormat(envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(mode)))
	if err != nil {
		return Config{}, err
	}
	cfg.LogFormat = format

	level, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if origins := envOrDefault(lookup, envVarAllowedOrigins, ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MatchSweepInterval, err = envDurationOrDefault(lookup, envVarMatchSweepInterval, cfg.MatchSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.SessionGraceUnjoined, err = envDurationOrDefault(lookup, envVarSessionGraceUnjoined, cfg.SessionGraceUnjoined); err != nil {
		return Config{}, err
	}
	if cfg.SessionGraceJoined, err = envDurationOrDefault(lookup, envVarSessionGraceJoined, cfg.SessionGraceJoined); err != nil {
		return Config{}, err
	}

	if cfg.MaxRecentPairs, err = envIntOrDefault(lookup, envVarMaxRecentPairs, cfg.MaxRecentPairs); err != nil {
		return Config{}, err
	}
	if cfg.MaxEventsPerSecond, err = envIntOrDefault(lookup, envVarMaxEventsPerSecond, cfg.MaxEventsPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.MaxVideoFrameBytes, err = envIntOrDefault(lookup, envVarMaxVideoFrameBytes, cfg.MaxVideoFrameBytes); err != nil {
		return Config{}, err
	}
	if cfg.MaxAudioFrameBytes, err = envIntOrDefault(lookup, envVarMaxAudioFrameBytes, cfg.MaxAudioFrameBytes); err != nil {
		return Config{}, err
	}
	if maxEventBytes, err := envIntOrDefault(lookup, envVarMaxEventBytes, int(cfg.MaxEventBytes)); err != nil {
		return Config{}, err
	} else {
		cfg.MaxEventBytes = int64(maxEventBytes)
	}

	fs := flag.NewFlagSet("pairwire", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP address to listen on")
	modeFlag := fs.String("mode", string(cfg.Mode), "runtime mode (dev|prod)")
	fs.DurationVar(&cfg.MatchSweepInterval, "match-sweep-interval", cfg.MatchSweepInterval, "interval between full matchmaking sweeps")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Mode, err = parseMode(*modeFlag); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen addr must not be empty")
	}
	if c.MatchSweepInterval <= 0 {
		return fmt.Errorf("match sweep interval must be positive, got %s", c.MatchSweepInterval)
	}
	if c.MaxRecentPairs <= 0 {
		return fmt.Errorf("max recent pairs must be positive, got %d", c.MaxRecentPairs)
	}
	if c.SessionGraceUnjoined <= 0 || c.SessionGraceJoined <= 0 {
		return fmt.Errorf("session grace periods must be positive")
	}
	if c.MaxEventBytes <= 0 {
		return fmt.Errorf("max event bytes must be positive, got %d", c.MaxEventBytes)
	}
	if int64(c.MaxVideoFrameBytes) >= c.MaxEventBytes {
		return fmt.Errorf("max event bytes (%d) must exceed the video frame cap (%d)", c.MaxEventBytes, c.MaxVideoFrameBytes)
	}
	return nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeDev:
		return ModeDev, nil
	case ModeProd, "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("unsupported mode %q", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch LogFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported log format %q", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envVarLogLevel, raw, err)
	}
	return level, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
