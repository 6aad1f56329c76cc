package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "3000" {
		t.Errorf("expected default port 3000, got %s", cfg.Port)
	}
	if cfg.DeepSeekBaseURL != "https://api.deepseek.com" {
		t.Errorf("unexpected deepseek base url: %s", cfg.DeepSeekBaseURL)
	}
	if cfg.BufferWaitTime != 35*time.Second {
		t.Errorf("expected 35s buffer wait, got %s", cfg.BufferWaitTime)
	}
	if cfg.ProcessingCooldown != 10*time.Second {
		t.Errorf("expected 10s cooldown, got %s", cfg.ProcessingCooldown)
	}
	if cfg.SpreadsheetRange != "pedidos" {
		t.Errorf("expected default sheet range pedidos, got %s", cfg.SpreadsheetRange)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BUFFER_WAIT_TIME", "10s")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("LLM_MAX_TOKENS", "1200")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("expected port override, got %s", cfg.Port)
	}
	if cfg.BufferWaitTime != 10*time.Second {
		t.Errorf("expected 10s buffer wait, got %s", cfg.BufferWaitTime)
	}
	if !cfg.RedisTLS {
		t.Error("expected RedisTLS true")
	}
	if cfg.LLMMaxTokens != 1200 {
		t.Errorf("expected 1200 max tokens, got %d", cfg.LLMMaxTokens)
	}
}
