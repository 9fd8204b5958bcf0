package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GIN_MODE", "debug")
	t.Setenv("PORT", "")
	t.Setenv("MAX_PAGES", "")
	t.Setenv("DEDUPE_TITLE_THRESHOLD", "")
	t.Setenv("DEDUPE_DESC_THRESHOLD", "")
	t.Setenv("DEFAULT_NUM_ANALYSES", "")
	t.Setenv("DEFAULT_REQ_PER_ANALYSIS", "")
	t.Setenv("NLI_CONTRADICTION_THRESHOLD", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.MaxPages != 500 {
		t.Errorf("MaxPages = %d", cfg.MaxPages)
	}
	if cfg.TitleSimThreshold != 0.7 || cfg.DescSimThreshold != 0.5 {
		t.Errorf("thresholds = %v/%v", cfg.TitleSimThreshold, cfg.DescSimThreshold)
	}
	if cfg.DefaultNumAnalyses != 3 || cfg.DefaultReqPerAnalysis != 5 {
		t.Errorf("analysis defaults = %d/%d", cfg.DefaultNumAnalyses, cfg.DefaultReqPerAnalysis)
	}
	if cfg.ContradictionThreshold != 0.8 {
		t.Errorf("ContradictionThreshold = %v", cfg.ContradictionThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GIN_MODE", "debug")
	t.Setenv("PORT", "9999")
	t.Setenv("MAX_FILE_SIZE", "1024")
	t.Setenv("EXTRACT_MAX_CONCURRENT_CALLS", "4")
	t.Setenv("DEDUPE_TITLE_THRESHOLD", "0.9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.MaxFileSize != 1024 {
		t.Errorf("MaxFileSize = %d", cfg.MaxFileSize)
	}
	if cfg.MaxConcurrentCalls != 4 {
		t.Errorf("MaxConcurrentCalls = %d", cfg.MaxConcurrentCalls)
	}
	if cfg.TitleSimThreshold != 0.9 {
		t.Errorf("TitleSimThreshold = %v", cfg.TitleSimThreshold)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("GIN_MODE", "debug")
	t.Setenv("MAX_PAGES", "many")
	t.Setenv("MAX_FILE_SIZE", "huge")
	t.Setenv("DEDUPE_TITLE_THRESHOLD", "high")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxPages != 500 {
		t.Errorf("MaxPages = %d, want default on parse failure", cfg.MaxPages)
	}
	if cfg.MaxFileSize != 52428800 {
		t.Errorf("MaxFileSize = %d, want default on parse failure", cfg.MaxFileSize)
	}
	if cfg.TitleSimThreshold != 0.7 {
		t.Errorf("TitleSimThreshold = %v, want default on parse failure", cfg.TitleSimThreshold)
	}
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	t.Setenv("GIN_MODE", "debug")
	t.Setenv("DEDUPE_TITLE_THRESHOLD", "1.5")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a threshold above 1")
	}

	t.Setenv("DEDUPE_TITLE_THRESHOLD", "0.7")
	t.Setenv("DEDUPE_DESC_THRESHOLD", "0")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a zero threshold")
	}
}

func TestValidateReleaseMode(t *testing.T) {
	cfg := &Config{
		GinMode:           "release",
		TitleSimThreshold: 0.7,
		DescSimThreshold:  0.5,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("release mode without credentials must fail validation")
	}
	if !strings.Contains(err.Error(), "APP_USERNAME") {
		t.Fatalf("error = %v", err)
	}

	cfg.AppUsername = "operator"
	cfg.AppPasswordHash = "$2a$10$hash"
	cfg.SessionSecret = "secret"
	cfg.QueueRedisURL = "redis://127.0.0.1:6379/0"
	cfg.LLMAPIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fully configured release mode failed: %v", err)
	}
}
