package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("VOICEWIRE_ENDPOINT_URL", "wss://example.test/v1/realtime")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.ToolTimeout != 30*time.Second {
		t.Fatalf("tool timeout=%v", cfg.ToolTimeout)
	}
	if len(cfg.Modalities) != 2 || cfg.Modalities[0] != "text" || cfg.Modalities[1] != "audio" {
		t.Fatalf("modalities=%v", cfg.Modalities)
	}
	if cfg.InputAudioFormat != "pcm16" || cfg.OutputAudioFormat != "pcm16" {
		t.Fatalf("audio formats=%q/%q", cfg.InputAudioFormat, cfg.OutputAudioFormat)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("VOICEWIRE_ENDPOINT_URL", "ws://localhost:9090/realtime")
	t.Setenv("VOICEWIRE_ADDR", ":9999")
	t.Setenv("VOICEWIRE_TOOL_TIMEOUT", "5s")
	t.Setenv("VOICEWIRE_MODALITIES", "text")
	t.Setenv("VOICEWIRE_TEMPERATURE", "0.2")
	t.Setenv("DATABASE_URL", "postgres://voicewire@localhost/voicewire")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ToolTimeout != 5*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(cfg.Modalities) != 1 || cfg.Modalities[0] != "text" {
		t.Fatalf("modalities=%v", cfg.Modalities)
	}
	if cfg.Temperature != 0.2 {
		t.Fatalf("temperature=%v", cfg.Temperature)
	}
	if cfg.DatabaseURL != "postgres://voicewire@localhost/voicewire" {
		t.Fatalf("database url=%q", cfg.DatabaseURL)
	}
}

func TestLoadFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("VOICEWIRE_ENDPOINT_URL", "wss://example.test/v1/realtime")
	t.Setenv("VOICEWIRE_TOOL_TIMEOUT", "not-a-duration")
	t.Setenv("VOICEWIRE_EVENT_BUFFER", "zebra")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ToolTimeout != 30*time.Second || cfg.EventBuffer != 256 {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestValidate_Rejections(t *testing.T) {
	base := Config{
		Addr:        ":8080",
		EndpointURL: "wss://example.test/v1/realtime",
		ToolTimeout: time.Second,
	}

	missing := base
	missing.EndpointURL = ""
	if err := missing.Validate(); err == nil {
		t.Fatalf("expected error for missing endpoint URL")
	}

	scheme := base
	scheme.EndpointURL = "https://example.test"
	if err := scheme.Validate(); err == nil {
		t.Fatalf("expected error for non-websocket scheme")
	}

	temp := base
	temp.Temperature = 3
	if err := temp.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range temperature")
	}
}
