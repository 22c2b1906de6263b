package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// Handler manages one conversation against an OpenAI-compatible endpoint.
// Each call gets its own Handler so histories never mix.
type Handler struct {
	client    *openai.Client
	systemMsg string
	mutex     sync.Mutex
	logger    *logrus.Logger
	messages  []openai.ChatCompletionMessage

	model       string
	temperature float32
	maxTokens   int
}

// NewHandler creates a conversation handler with a seeded system prompt.
func NewHandler(apiKey, baseURL, model, systemPrompt string, temperature float32, maxTokens int, logger *logrus.Logger) *Handler {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(config)

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		},
	}

	return &Handler{
		client:      client,
		systemMsg:   systemPrompt,
		logger:      logger,
		messages:    messages,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Query sends the user text with the accumulated history and returns the
// assistant reply.
func (h *Handler) Query(ctx context.Context, text string) (string, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.messages = append(h.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	request := openai.ChatCompletionRequest{
		Model:       h.model,
		Messages:    h.messages,
		Temperature: h.temperature,
		MaxTokens:   h.maxTokens,
	}

	response, err := h.client.CreateChatCompletion(ctx, request)
	if err != nil {
		// drop the unanswered user turn so a retry does not duplicate it
		h.messages = h.messages[:len(h.messages)-1]
		return "", fmt.Errorf("error creating chat completion: %w", err)
	}

	if len(response.Choices) == 0 {
		h.messages = h.messages[:len(h.messages)-1]
		return "", fmt.Errorf("no response choices returned")
	}

	content := response.Choices[0].Message.Content

	h.messages = append(h.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: content,
	})

	h.logger.WithField("response", content).Debug("LLM query completed")

	return content, nil
}

// Reset clears the conversation history but keeps the system prompt.
func (h *Handler) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.messages = []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: h.systemMsg,
		},
	}
}

// GetMessages returns a copy of the current conversation messages.
func (h *Handler) GetMessages() []openai.ChatCompletionMessage {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	messages := make([]openai.ChatCompletionMessage, len(h.messages))
	copy(messages, h.messages)
	return messages
}

// SetSystemPrompt updates the system prompt for subsequent turns.
func (h *Handler) SetSystemPrompt(prompt string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.systemMsg = prompt
	if len(h.messages) > 0 && h.messages[0].Role == openai.ChatMessageRoleSystem {
		h.messages[0].Content = prompt
	}
}
