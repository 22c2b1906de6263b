package tts

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"

	"github.com/LingByte/LingCall/pkg/audio"
)

// PollyEngine synthesizes speech with Amazon Polly. Polly returns raw PCM,
// which is wrapped into a WAV container before writing.
type PollyEngine struct {
	client     *polly.Client
	sampleRate int
}

func NewPollyEngine(ctx context.Context, region string, sampleRate int) (*PollyEngine, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if sampleRate != 8000 && sampleRate != 16000 {
		sampleRate = 16000 // polly PCM supports 8000 and 16000 only
	}
	return &PollyEngine{
		client:     polly.NewFromConfig(cfg),
		sampleRate: sampleRate,
	}, nil
}

func (e *PollyEngine) Name() string {
	return "polly"
}

func (e *PollyEngine) Synthesize(ctx context.Context, text, voice, outputPath string) error {
	if voice == "" {
		voice = "Joanna"
	}
	out, err := e.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         &text,
		OutputFormat: pollytypes.OutputFormatPcm,
		VoiceId:      pollytypes.VoiceId(voice),
		SampleRate:   strPtr(strconv.Itoa(e.sampleRate)),
	})
	if err != nil {
		return fmt.Errorf("polly synthesize: %w", err)
	}
	defer out.AudioStream.Close()

	raw, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return fmt.Errorf("read polly stream: %w", err)
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}
	return audio.SaveWAV(outputPath, samples, e.sampleRate)
}

func strPtr(s string) *string {
	return &s
}
