package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the panel discussion service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DefaultMaxDuration time.Duration
	DefaultMaxTurns    int
	EndedRetention     time.Duration

	InterTurnGap      time.Duration
	ResumeDelay       time.Duration
	UserResponseDelay time.Duration
	SpeakingRateWPM   int
	MinSpokenTime     time.Duration
	TranscriptWindow  int

	SpeechProvider            string
	ElevenLabsAPIKey          string
	ElevenLabsBaseURL         string
	ElevenLabsTTSModel        string
	ElevenLabsTTSOutputFormat string

	BrainMode    string
	BrainHTTPURL string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "roundtable"),
		AllowAnyOrigin:    false,
		SpeechProvider:    envOrDefault("SPEECH_PROVIDER", "auto"),
		ElevenLabsAPIKey:  envTrimmed("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsTTSModel: envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		// MP3 keeps the base64 payloads small on the broadcast socket.
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "mp3_44100_128"),
		BrainMode:                 envOrDefault("BRAIN_ADAPTER_MODE", "auto"),
		BrainHTTPURL:              envTrimmed("BRAIN_HTTP_URL"),
		DatabaseURL:               envTrimmed("DATABASE_URL"),
		ShutdownTimeout:           15 * time.Second,
		DefaultMaxDuration:        10 * time.Minute,
		DefaultMaxTurns:           24,
		EndedRetention:            time.Minute,
		InterTurnGap:              1500 * time.Millisecond,
		ResumeDelay:               1200 * time.Millisecond,
		UserResponseDelay:         900 * time.Millisecond,
		SpeakingRateWPM:           150,
		MinSpokenTime:             2500 * time.Millisecond,
		TranscriptWindow:          8,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultMaxDuration, err = durationFromEnv("PANEL_MAX_DURATION", cfg.DefaultMaxDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultMaxTurns, err = intFromEnv("PANEL_MAX_TURNS", cfg.DefaultMaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.EndedRetention, err = durationFromEnv("PANEL_ENDED_RETENTION", cfg.EndedRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.InterTurnGap, err = durationFromEnv("PANEL_INTER_TURN_GAP", cfg.InterTurnGap)
	if err != nil {
		return Config{}, err
	}
	cfg.ResumeDelay, err = durationFromEnv("PANEL_RESUME_DELAY", cfg.ResumeDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.UserResponseDelay, err = durationFromEnv("PANEL_USER_RESPONSE_DELAY", cfg.UserResponseDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeakingRateWPM, err = intFromEnv("PANEL_SPEAKING_RATE_WPM", cfg.SpeakingRateWPM)
	if err != nil {
		return Config{}, err
	}
	cfg.MinSpokenTime, err = durationFromEnv("PANEL_MIN_SPOKEN_TIME", cfg.MinSpokenTime)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscriptWindow, err = intFromEnv("PANEL_TRANSCRIPT_WINDOW", cfg.TranscriptWindow)
	if err != nil {
		return Config{}, err
	}

	if cfg.DefaultMaxDuration < 10*time.Second {
		return Config{}, fmt.Errorf("PANEL_MAX_DURATION must be at least 10s")
	}
	if cfg.DefaultMaxTurns <= 0 {
		return Config{}, fmt.Errorf("PANEL_MAX_TURNS must be positive")
	}
	if cfg.EndedRetention <= 0 {
		return Config{}, fmt.Errorf("PANEL_ENDED_RETENTION must be positive")
	}
	if cfg.InterTurnGap < 0 || cfg.ResumeDelay < 0 || cfg.UserResponseDelay < 0 {
		return Config{}, fmt.Errorf("panel delays must be >= 0")
	}
	if cfg.SpeakingRateWPM <= 0 {
		return Config{}, fmt.Errorf("PANEL_SPEAKING_RATE_WPM must be positive")
	}
	if cfg.TranscriptWindow <= 0 {
		return Config{}, fmt.Errorf("PANEL_TRANSCRIPT_WINDOW must be positive")
	}
	switch cfg.SpeechProvider {
	case "auto", "elevenlabs", "none", "mock":
	default:
		return Config{}, fmt.Errorf("SPEECH_PROVIDER must be auto, elevenlabs, none or mock")
	}
	if cfg.SpeechProvider == "elevenlabs" && cfg.ElevenLabsAPIKey == "" {
		return Config{}, fmt.Errorf("SPEECH_PROVIDER=elevenlabs requires ELEVENLABS_API_KEY")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
