package asr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	TranscribeFile(ctx context.Context, wavPath string) (string, error)
}

// WhisperClient talks to a whisper.cpp server over HTTP.
type WhisperClient struct {
	baseURL  string
	language string
	timeout  time.Duration
}

type whisperResponse struct {
	Text string `json:"text"`
}

func NewWhisperClient(baseURL, language string) *WhisperClient {
	return &WhisperClient{
		baseURL:  baseURL,
		language: language,
		timeout:  120 * time.Second,
	}
}

// TranscribeFile uploads a WAV file and returns the recognized text.
func (c *WhisperClient) TranscribeFile(ctx context.Context, wavPath string) (string, error) {
	file, err := os.Open(wavPath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	body, contentType, err := buildMultipart(file, filepath.Base(wavPath), c.language)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp whisperResponse
	err = requests.URL(c.baseURL).
		Path("/inference").
		ContentType(contentType).
		BodyReader(body).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("whisper inference: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func buildMultipart(file io.Reader, filename, language string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", err
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return nil, "", err
		}
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
