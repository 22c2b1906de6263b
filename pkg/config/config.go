package config

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/utils"
)

// Config main configuration structure
type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Database DatabaseConfig   `mapstructure:"database"`
	Log      logger.LogConfig `mapstructure:"log"`
	SIP      SIPConfig        `mapstructure:"sip"`
	Services ServicesConfig   `mapstructure:"services"`
	Audio    AudioConfig      `mapstructure:"audio"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Name      string `env:"SERVER_NAME"`
	Addr      string `env:"ADDR"`
	Mode      string `env:"MODE"`
	APIPrefix string `env:"API_PREFIX"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER"`
	DSN    string `env:"DSN"`
}

// SIPConfig PBX registration configuration
type SIPConfig struct {
	Domain            string        `env:"SIP_DOMAIN"`
	Username          string        `env:"SIP_USERNAME"`
	Password          string        `env:"SIP_PASSWORD"`
	Port              int           `env:"SIP_PORT"`            // remote PBX port
	LocalPortHint     int           `env:"SIP_LOCAL_PORT"`      // preferred local port
	UserAgentName     string        `env:"SIP_USER_AGENT"`
	KeepAliveInterval time.Duration `env:"SIP_KEEPALIVE_INTERVAL"`
	RTPPort           int           `env:"RTP_PORT"`
}

// ServicesConfig services configuration
type ServicesConfig struct {
	LLM LLMConfig `mapstructure:"llm"`
	ASR ASRConfig `mapstructure:"asr"`
	TTS TTSConfig `mapstructure:"tts"`
}

// LLMConfig LLM service configuration
type LLMConfig struct {
	Provider     string  `env:"LLM_PROVIDER"` // ollama, openai
	URL          string  `env:"OLLAMA_URL"`
	APIKey       string  `env:"LLM_API_KEY"`
	BaseURL      string  `env:"LLM_BASE_URL"`
	Model        string  `env:"LLM_MODEL"`
	SystemPrompt string  `env:"LLM_SYSTEM_PROMPT"`
	Temperature  float32 `env:"LLM_TEMPERATURE"`
	MaxTokens    int     `env:"LLM_MAX_TOKENS"`
}

// ASRConfig ASR service configuration
type ASRConfig struct {
	Provider string `env:"ASR_PROVIDER"` // whisper
	URL      string `env:"WHISPER_URL"`
	Model    string `env:"WHISPER_MODEL_SIZE"` // tiny, base, small, medium, large
	Language string `env:"ASR_LANGUAGE"`
}

// TTSConfig TTS service configuration
type TTSConfig struct {
	Engine     string `env:"TTS_ENGINE"` // http, polly
	URL        string `env:"TTS_URL"`
	Voice      string `env:"TTS_VOICE"`
	Region     string `env:"TTS_REGION"`
	SampleRate int    `env:"TTS_SAMPLE_RATE"`
}

// AudioConfig audio pipeline configuration
type AudioConfig struct {
	OutputDir    string `env:"AUDIO_OUTPUT_DIR"`
	SampleRate   int    `env:"AUDIO_SAMPLE_RATE"`   // recorder rate
	PlaybackRate int    `env:"AUDIO_PLAYBACK_RATE"` // narrowband channel rate
}

var GlobalConfig *Config

func Load() error {
	// 1. Load .env file based on environment (don't error if it doesn't exist)
	env := os.Getenv("APP_ENV")
	if err := utils.LoadEnv(env); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	// 2. Load global configuration
	GlobalConfig = &Config{
		Server: ServerConfig{
			Name:      getStringOrDefault("SERVER_NAME", "LingCall"),
			Addr:      getStringOrDefault("ADDR", ":7072"),
			Mode:      getStringOrDefault("MODE", "development"),
			APIPrefix: getStringOrDefault("API_PREFIX", "/api"),
		},
		Database: DatabaseConfig{
			Driver: getStringOrDefault("DB_DRIVER", "sqlite"),
			DSN:    getStringOrDefault("DSN", "./lingcall.db"),
		},
		Log: logger.LogConfig{
			Level:      getStringOrDefault("LOG_LEVEL", "info"),
			Filename:   getStringOrDefault("LOG_FILENAME", "./logs/app.log"),
			MaxSize:    getIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     getIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      getBoolOrDefault("LOG_DAILY", true),
		},
		SIP: SIPConfig{
			Domain:            getStringOrDefault("SIP_DOMAIN", "pbx.example.com"),
			Username:          getStringOrDefault("SIP_USERNAME", "1001"),
			Password:          getStringOrDefault("SIP_PASSWORD", ""),
			Port:              getIntOrDefault("SIP_PORT", 5060),
			LocalPortHint:     getIntOrDefault("SIP_LOCAL_PORT", 5070),
			UserAgentName:     getStringOrDefault("SIP_USER_AGENT", "LingCall/1.0"),
			KeepAliveInterval: parseDuration(getStringOrDefault("SIP_KEEPALIVE_INTERVAL", "25s"), 25*time.Second),
			RTPPort:           getIntOrDefault("RTP_PORT", 10000),
		},
		Services: ServicesConfig{
			LLM: LLMConfig{
				Provider:     getStringOrDefault("LLM_PROVIDER", "ollama"),
				URL:          getStringOrDefault("OLLAMA_URL", "http://localhost:11434"),
				APIKey:       getStringOrDefault("LLM_API_KEY", ""),
				BaseURL:      getStringOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
				Model:        getStringOrDefault("LLM_MODEL", "llama2"),
				SystemPrompt: getStringOrDefault("LLM_SYSTEM_PROMPT", defaultSystemPrompt),
				Temperature:  float32(getFloatOrDefault("LLM_TEMPERATURE", 0.7)),
				MaxTokens:    getIntOrDefault("LLM_MAX_TOKENS", 500),
			},
			ASR: ASRConfig{
				Provider: getStringOrDefault("ASR_PROVIDER", "whisper"),
				URL:      getStringOrDefault("WHISPER_URL", "http://localhost:9000"),
				Model:    getStringOrDefault("WHISPER_MODEL_SIZE", "base"),
				Language: getStringOrDefault("ASR_LANGUAGE", "en"),
			},
			TTS: TTSConfig{
				Engine:     getStringOrDefault("TTS_ENGINE", "http"),
				URL:        getStringOrDefault("TTS_URL", "http://localhost:5002"),
				Voice:      getStringOrDefault("TTS_VOICE", "en_0"),
				Region:     getStringOrDefault("TTS_REGION", "us-east-1"),
				SampleRate: getIntOrDefault("TTS_SAMPLE_RATE", 16000),
			},
		},
		Audio: AudioConfig{
			OutputDir:    getStringOrDefault("AUDIO_OUTPUT_DIR", "audio_output"),
			SampleRate:   getIntOrDefault("AUDIO_SAMPLE_RATE", 16000),
			PlaybackRate: getIntOrDefault("AUDIO_PLAYBACK_RATE", 8000),
		},
	}
	return nil
}

const defaultSystemPrompt = "You are a helpful phone assistant. Keep replies short, " +
	"natural and suitable for being read aloud over a telephone call. If the caller " +
	"indicates the conversation is over, say goodbye politely."

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database DSN is required")
	}
	if c.Server.Addr == "" {
		return errors.New("server address is required")
	}
	if c.SIP.Domain == "" {
		return errors.New("SIP domain is required")
	}
	if c.SIP.Port <= 0 || c.SIP.Port > 65535 {
		return errors.New("SIP port must be between 1-65535")
	}
	return nil
}

// getStringOrDefault gets environment variable value, returns default if empty
func getStringOrDefault(key, defaultValue string) string {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBoolOrDefault gets boolean environment variable value, returns default if empty
func getBoolOrDefault(key string, defaultValue bool) bool {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return utils.GetBoolEnv(key)
}

// getIntOrDefault gets integer environment variable value, returns default if empty
func getIntOrDefault(key string, defaultValue int) int {
	value := utils.GetIntEnv(key)
	if value == 0 {
		return defaultValue
	}
	return int(value)
}

// getFloatOrDefault gets float environment variable value, returns default if empty
func getFloatOrDefault(key string, defaultValue float64) float64 {
	if utils.GetEnv(key) == "" {
		return defaultValue
	}
	return utils.GetFloatEnv(key)
}

// parseDuration parses duration string with default fallback
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
