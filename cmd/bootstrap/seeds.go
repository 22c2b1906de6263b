package bootstrap

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/logger"
)

// SeedDefaults creates the settings singleton from the loaded configuration
// when the table is still empty.
func SeedDefaults(db *gorm.DB) error {
	settings, err := models.GetSettings(db)
	if err != nil {
		return err
	}
	logger.Info("settings seeded",
		zap.String("sip_domain", settings.SIPDomain),
		zap.String("llm_provider", settings.LLMProvider),
		zap.String("tts_engine", settings.TTSEngine))
	return nil
}
