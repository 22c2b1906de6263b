package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/LingByte/LingCall/pkg/config"
)

// Responder produces an assistant reply for a transcript segment.
type Responder interface {
	Reply(ctx context.Context, callID, text string) (string, error)
	EndConversation(callID string)
}

// Service routes transcript segments to the configured LLM provider while
// keeping per-call conversation state.
type Service struct {
	logger *logrus.Logger

	mu       sync.Mutex
	cfg      config.LLMConfig
	ollama   *OllamaClient
	handlers map[string]*Handler // per-call OpenAI conversations
	history  map[string][]string // per-call prompt history for ollama
}

func NewService(cfg config.LLMConfig, logger *logrus.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string]*Handler),
		history:  make(map[string][]string),
	}
	if cfg.Provider == "ollama" {
		s.ollama = NewOllamaClient(cfg.URL)
	}
	return s
}

// Ollama exposes the underlying daemon client, nil for other providers.
func (s *Service) Ollama() *OllamaClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ollama
}

// Reconfigure applies runtime settings from the settings table. Live
// conversations keep their history; existing handlers pick up the new
// system prompt and later turns use the new model and temperature. Empty
// fields leave the current value in place.
func (s *Service) Reconfigure(provider, model, systemPrompt string, temperature float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if provider != "" {
		s.cfg.Provider = provider
		if provider == "ollama" && s.ollama == nil {
			s.ollama = NewOllamaClient(s.cfg.URL)
		}
	}
	if model != "" {
		s.cfg.Model = model
	}
	if systemPrompt != "" {
		s.cfg.SystemPrompt = systemPrompt
		for _, h := range s.handlers {
			h.SetSystemPrompt(systemPrompt)
		}
	}
	if temperature > 0 {
		s.cfg.Temperature = temperature
	}
}

// Reply generates an assistant reply for one transcript segment.
func (s *Service) Reply(ctx context.Context, callID, text string) (string, error) {
	s.mu.Lock()
	provider := s.cfg.Provider
	s.mu.Unlock()

	switch provider {
	case "ollama":
		return s.replyOllama(ctx, callID, text)
	case "openai":
		return s.replyOpenAI(ctx, callID, text)
	default:
		return "", fmt.Errorf("unknown LLM provider: %s", provider)
	}
}

func (s *Service) replyOllama(ctx context.Context, callID, text string) (string, error) {
	s.mu.Lock()
	s.history[callID] = append(s.history[callID], "Caller: "+text)
	prompt := strings.Join(s.history[callID], "\n") + "\nAssistant:"
	client := s.ollama
	model := s.cfg.Model
	system := s.cfg.SystemPrompt
	temperature := s.cfg.Temperature
	s.mu.Unlock()

	if client == nil {
		return "", fmt.Errorf("ollama client not configured")
	}
	reply, err := client.Generate(ctx, model, prompt, system, temperature)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)

	s.mu.Lock()
	s.history[callID] = append(s.history[callID], "Assistant: "+reply)
	s.mu.Unlock()
	return reply, nil
}

func (s *Service) replyOpenAI(ctx context.Context, callID, text string) (string, error) {
	s.mu.Lock()
	handler, ok := s.handlers[callID]
	if !ok {
		handler = NewHandler(s.cfg.APIKey, s.cfg.BaseURL, s.cfg.Model,
			s.cfg.SystemPrompt, s.cfg.Temperature, s.cfg.MaxTokens, s.logger)
		s.handlers[callID] = handler
	}
	s.mu.Unlock()

	return handler.Query(ctx, text)
}

// EndConversation drops the per-call state once the call ends.
func (s *Service) EndConversation(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, callID)
	delete(s.history, callID)
}
