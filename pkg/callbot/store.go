package callbot

import (
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/logger"
)

// Store persists call records as calls progress. Failures are logged, never
// propagated into the call path; losing a record must not drop a call.
type Store struct {
	db *gorm.DB

	mu      sync.Mutex
	records map[string]uint // call id -> record primary key
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:      db,
		records: make(map[string]uint),
	}
}

// CallStarted creates the in-progress record for an answered call.
func (s *Store) CallStarted(callID, callerID, ttsVoice string) {
	if s.db == nil {
		return
	}
	record := &models.Call{
		CallID:   callID,
		CallerID: callerID,
		TTSVoice: ttsVoice,
		Status:   models.CallStatusInProgress,
	}
	if err := models.CreateCall(s.db, record); err != nil {
		logger.Error("failed to create call record",
			zap.String("call_id", callID),
			zap.Error(err))
		return
	}
	s.mu.Lock()
	s.records[callID] = record.ID
	s.mu.Unlock()
}

// TurnCompleted appends a transcript segment and the AI reply.
func (s *Store) TurnCompleted(callID, userText, reply string) {
	id, ok := s.recordID(callID)
	if !ok {
		return
	}
	if err := models.AppendTranscript(s.db, id, userText); err != nil {
		logger.Error("failed to append transcript",
			zap.String("call_id", callID),
			zap.Error(err))
	}

	var record models.Call
	if err := s.db.First(&record, id).Error; err != nil {
		return
	}
	if record.AIResponse == "" {
		record.AIResponse = reply
	} else {
		record.AIResponse += " " + reply
	}
	if err := models.UpdateCall(s.db, &record); err != nil {
		logger.Error("failed to save AI response",
			zap.String("call_id", callID),
			zap.Error(err))
	}
}

// CallEnded finalizes the record and forgets the call.
func (s *Store) CallEnded(callID string, durationSec int, audioPath string, failed bool) {
	id, ok := s.recordID(callID)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.records, callID)
	s.mu.Unlock()

	status := models.CallStatusCompleted
	if failed {
		status = models.CallStatusError
	}
	if err := models.FinalizeCall(s.db, id, durationSec, audioPath, status); err != nil {
		logger.Error("failed to finalize call record",
			zap.String("call_id", callID),
			zap.Error(err))
	}
}

func (s *Store) recordID(callID string) (uint, bool) {
	if s.db == nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.records[callID]
	return id, ok
}
