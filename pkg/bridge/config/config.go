// Package config loads bridge configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Addr is the human-side listen address.
	Addr string

	// Endpoint is the realtime model endpoint.
	EndpointURL    string
	EndpointAPIKey string
	Model          string

	// Session shape advertised on session.update.
	Instructions      string
	Voice             string
	Modalities        []string
	InputAudioFormat  string
	OutputAudioFormat string
	Temperature       float64

	ToolTimeout      time.Duration
	EventBuffer      int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageBytes  int64

	// DatabaseURL selects the Postgres tool-data store; empty keeps the
	// in-memory store.
	DatabaseURL string

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

const defaultInstructions = "You are a helpful assistant. Answer briefly; " +
	"use the registered tools to look up customer data instead of guessing."

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOICEWIRE_ADDR", ":8080"),
		EndpointURL:         envOr("VOICEWIRE_ENDPOINT_URL", ""),
		EndpointAPIKey:      envOr("VOICEWIRE_ENDPOINT_API_KEY", ""),
		Model:               envOr("VOICEWIRE_MODEL", ""),
		Instructions:        envOr("VOICEWIRE_INSTRUCTIONS", defaultInstructions),
		Voice:               envOr("VOICEWIRE_VOICE", "alloy"),
		Modalities:          splitCSV(envOr("VOICEWIRE_MODALITIES", "text,audio")),
		InputAudioFormat:    envOr("VOICEWIRE_INPUT_AUDIO_FORMAT", "pcm16"),
		OutputAudioFormat:   envOr("VOICEWIRE_OUTPUT_AUDIO_FORMAT", "pcm16"),
		Temperature:         envFloat64Or("VOICEWIRE_TEMPERATURE", 0.8),
		ToolTimeout:         envDurationOr("VOICEWIRE_TOOL_TIMEOUT", 30*time.Second),
		EventBuffer:         envIntOr("VOICEWIRE_EVENT_BUFFER", 256),
		HandshakeTimeout:    envDurationOr("VOICEWIRE_HANDSHAKE_TIMEOUT", 15*time.Second),
		WriteTimeout:        envDurationOr("VOICEWIRE_WRITE_TIMEOUT", 10*time.Second),
		MaxMessageBytes:     envInt64Or("VOICEWIRE_MAX_MESSAGE_BYTES", 16<<20), // 16 MiB
		DatabaseURL:         envOr("VOICEWIRE_DATABASE_URL", envOr("DATABASE_URL", "")),
		ReadHeaderTimeout:   envDurationOr("VOICEWIRE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICEWIRE_SHUTDOWN_GRACE", 10*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("listen addr must not be empty")
	}
	url := strings.TrimSpace(c.EndpointURL)
	if url == "" {
		return fmt.Errorf("VOICEWIRE_ENDPOINT_URL is required")
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return fmt.Errorf("endpoint URL %q must use ws or wss", url)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("tool timeout must be positive")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
