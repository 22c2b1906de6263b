package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type CallStatus string

const (
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusError      CallStatus = "error"
)

// Call is the persisted record of one answered call.
type Call struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	CreatedAt     time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updatedAt" gorm:"autoUpdateTime"`
	CallID        string     `json:"callId" gorm:"size:128;index;not null"` // SIP Call-ID
	CallerID      string     `json:"callerId" gorm:"size:64;index;not null"`
	Transcript    string     `json:"transcript" gorm:"type:text"`
	AIResponse    string     `json:"aiResponse" gorm:"type:text"`
	TTSVoice      string     `json:"ttsVoice,omitempty" gorm:"size:64"`
	AudioFilename string     `json:"audioFilename,omitempty" gorm:"size:255"`
	Duration      int        `json:"duration" gorm:"default:0"` // seconds
	Status        CallStatus `json:"status" gorm:"size:20;index"`
}

func (Call) TableName() string {
	return "calls"
}

// DurationFormatted returns the duration in MM:SS form.
func (c *Call) DurationFormatted() string {
	return fmt.Sprintf("%02d:%02d", c.Duration/60, c.Duration%60)
}

// CreateCall creates a call record and returns its id.
func CreateCall(db *gorm.DB, call *Call) error {
	return db.Create(call).Error
}

// GetCallByID fetches a record by primary key.
func GetCallByID(db *gorm.DB, id uint) (*Call, error) {
	var call Call
	if err := db.First(&call, id).Error; err != nil {
		return nil, err
	}
	return &call, nil
}

// UpdateCall saves the record.
func UpdateCall(db *gorm.DB, call *Call) error {
	return db.Save(call).Error
}

// AppendTranscript space-joins a new transcript segment onto the record.
func AppendTranscript(db *gorm.DB, id uint, segment string) error {
	var call Call
	if err := db.First(&call, id).Error; err != nil {
		return err
	}
	if call.Transcript == "" {
		call.Transcript = segment
	} else {
		call.Transcript += " " + segment
	}
	return db.Save(&call).Error
}

// FinalizeCall closes out a record with duration, audio path and terminal status.
func FinalizeCall(db *gorm.DB, id uint, duration int, audioPath string, status CallStatus) error {
	return db.Model(&Call{}).Where("id = ?", id).Updates(map[string]any{
		"duration":       duration,
		"audio_filename": audioPath,
		"status":         status,
	}).Error
}

// ListCalls returns records newest first, with optional transcript/caller search.
func ListCalls(db *gorm.DB, search string, page, perPage int) ([]Call, int64, error) {
	var calls []Call
	var total int64

	query := db.Model(&Call{})
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("transcript LIKE ? OR ai_response LIKE ? OR caller_id LIKE ?", like, like, like)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	err := query.Order("created_at DESC").Offset((page - 1) * perPage).Limit(perPage).Find(&calls).Error
	return calls, total, err
}
