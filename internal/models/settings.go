package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/utils"
)

const settingsCacheKey = "settings:singleton"

// Settings is a single-row table holding runtime-editable service settings.
// Changing SIP fields requires a re-registration pass by the orchestrator.
type Settings struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`

	SIPDomain   string `json:"sipDomain" gorm:"size:255"`
	SIPUsername string `json:"sipUsername" gorm:"size:64"`
	SIPPassword string `json:"sipPassword,omitempty" gorm:"size:128"`
	SIPPort     int    `json:"sipPort"`

	LLMProvider  string  `json:"llmProvider" gorm:"size:32"`
	LLMModel     string  `json:"llmModel" gorm:"size:128"`
	SystemPrompt string  `json:"systemPrompt" gorm:"type:text"`
	Temperature  float32 `json:"temperature"`

	TTSEngine string `json:"ttsEngine" gorm:"size:32"`
	TTSVoice  string `json:"ttsVoice" gorm:"size:64"`
}

func (Settings) TableName() string {
	return "settings"
}

// GetSettings returns the singleton row, creating it from the loaded
// configuration on first access.
func GetSettings(db *gorm.DB) (*Settings, error) {
	if cached, ok := utils.CacheGet(settingsCacheKey); ok {
		if s, ok := cached.(*Settings); ok {
			return s, nil
		}
	}

	var s Settings
	err := db.First(&s).Error
	if err == gorm.ErrRecordNotFound {
		s = defaultSettings()
		if err := db.Create(&s).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	utils.CacheSet(settingsCacheKey, &s)
	return &s, nil
}

// UpdateSettings persists the singleton and invalidates its cache entry.
func UpdateSettings(db *gorm.DB, s *Settings) error {
	if err := db.Save(s).Error; err != nil {
		return err
	}
	utils.CacheDelete(settingsCacheKey)
	return nil
}

// SIPChanged reports whether the fields that require re-registration differ.
func (s *Settings) SIPChanged(other *Settings) bool {
	return s.SIPDomain != other.SIPDomain ||
		s.SIPUsername != other.SIPUsername ||
		s.SIPPassword != other.SIPPassword ||
		s.SIPPort != other.SIPPort
}

func defaultSettings() Settings {
	cfg := config.GlobalConfig
	if cfg == nil {
		return Settings{SIPPort: 5060, LLMProvider: "ollama", TTSEngine: "http"}
	}
	return Settings{
		SIPDomain:    cfg.SIP.Domain,
		SIPUsername:  cfg.SIP.Username,
		SIPPassword:  cfg.SIP.Password,
		SIPPort:      cfg.SIP.Port,
		LLMProvider:  cfg.Services.LLM.Provider,
		LLMModel:     cfg.Services.LLM.Model,
		SystemPrompt: cfg.Services.LLM.SystemPrompt,
		Temperature:  cfg.Services.LLM.Temperature,
		TTSEngine:    cfg.Services.TTS.Engine,
		TTSVoice:     cfg.Services.TTS.Voice,
	}
}
