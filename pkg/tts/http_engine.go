package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/carlmjohnson/requests"
)

// HTTPEngine talks to a Coqui-style TTS server that returns WAV bytes from
// a GET /api/tts request.
type HTTPEngine struct {
	baseURL string
	timeout time.Duration
}

func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		timeout: 60 * time.Second,
	}
}

func (e *HTTPEngine) Name() string {
	return "http"
}

func (e *HTTPEngine) Synthesize(ctx context.Context, text, voice, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var buf bytes.Buffer
	err := requests.URL(e.baseURL).
		Path("/api/tts").
		Param("text", text).
		Param("speaker_id", voice).
		ToBytesBuffer(&buf).
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("tts request: %w", err)
	}
	if buf.Len() == 0 {
		return fmt.Errorf("tts server returned empty audio")
	}
	if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write tts output: %w", err)
	}
	return nil
}
