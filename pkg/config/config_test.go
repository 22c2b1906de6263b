package config

import (
	"os"
	"testing"
)

func TestConfigLoad(t *testing.T) {
	originalGlobalConfig := GlobalConfig
	defer func() {
		GlobalConfig = originalGlobalConfig
	}()

	os.Setenv("LLM_PROVIDER", "test-llm")
	os.Setenv("OLLAMA_URL", "http://ollama.test:11434")
	os.Setenv("SIP_DOMAIN", "pbx.test.local")
	os.Setenv("TTS_ENGINE", "test-tts")

	defer func() {
		os.Unsetenv("LLM_PROVIDER")
		os.Unsetenv("OLLAMA_URL")
		os.Unsetenv("SIP_DOMAIN")
		os.Unsetenv("TTS_ENGINE")
	}()

	err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if GlobalConfig == nil {
		t.Fatal("GlobalConfig is nil")
	}

	if GlobalConfig.Services.LLM.Provider != "test-llm" {
		t.Errorf("Expected LLM provider 'test-llm', got '%s'", GlobalConfig.Services.LLM.Provider)
	}

	if GlobalConfig.Services.LLM.URL != "http://ollama.test:11434" {
		t.Errorf("Expected ollama URL 'http://ollama.test:11434', got '%s'", GlobalConfig.Services.LLM.URL)
	}

	if GlobalConfig.SIP.Domain != "pbx.test.local" {
		t.Errorf("Expected SIP domain 'pbx.test.local', got '%s'", GlobalConfig.SIP.Domain)
	}

	if GlobalConfig.Services.TTS.Engine != "test-tts" {
		t.Errorf("Expected TTS engine 'test-tts', got '%s'", GlobalConfig.Services.TTS.Engine)
	}
}

func TestConfigStructure(t *testing.T) {
	originalGlobalConfig := GlobalConfig
	defer func() {
		GlobalConfig = originalGlobalConfig
	}()

	err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if GlobalConfig == nil {
		t.Fatal("GlobalConfig is nil")
	}

	if GlobalConfig.Services.LLM.Provider == "" {
		t.Error("LLM provider should not be empty")
	}

	if GlobalConfig.Services.ASR.Provider == "" {
		t.Error("ASR provider should not be empty")
	}

	if GlobalConfig.Services.TTS.Engine == "" {
		t.Error("TTS engine should not be empty")
	}

	if GlobalConfig.Services.LLM.Temperature <= 0 || GlobalConfig.Services.LLM.Temperature > 2 {
		t.Errorf("LLM temperature should be between 0 and 2, got %f", GlobalConfig.Services.LLM.Temperature)
	}

	if GlobalConfig.Audio.PlaybackRate <= 0 {
		t.Errorf("Playback rate should be positive, got %d", GlobalConfig.Audio.PlaybackRate)
	}

	if GlobalConfig.SIP.KeepAliveInterval <= 0 {
		t.Errorf("Keep-alive interval should be positive, got %v", GlobalConfig.SIP.KeepAliveInterval)
	}
}

func TestConfigValidation(t *testing.T) {
	originalGlobalConfig := GlobalConfig
	defer func() {
		GlobalConfig = originalGlobalConfig
	}()

	os.Setenv("DSN", "test.db")
	os.Setenv("ADDR", ":8080")
	os.Setenv("SIP_DOMAIN", "pbx.test.local")

	defer func() {
		os.Unsetenv("DSN")
		os.Unsetenv("ADDR")
		os.Unsetenv("SIP_DOMAIN")
	}()

	err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	err = GlobalConfig.Validate()
	if err != nil {
		t.Errorf("Config validation failed: %v", err)
	}
}
