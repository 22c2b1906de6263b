package callbot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeResponder struct {
	mu      sync.Mutex
	replies map[string][]string // callID -> texts seen
	failOn  string
	ended   []string
}

func newFakeResponder() *fakeResponder {
	return &fakeResponder{replies: make(map[string][]string)}
}

func (f *fakeResponder) Reply(ctx context.Context, callID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if text == f.failOn {
		return "", errors.New("model unavailable")
	}
	f.replies[callID] = append(f.replies[callID], text)
	return "re: " + text, nil
}

func (f *fakeResponder) EndConversation(callID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, callID)
}

type fakeSynth struct {
	mu     sync.Mutex
	paths  []string
	voices []string
	fail   bool
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, voice, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("tts down")
	}
	f.paths = append(f.paths, outputPath)
	f.voices = append(f.voices, voice)
	return os.WriteFile(outputPath, []byte("RIFF"), 0o644)
}

type fakePlayer struct {
	mu     sync.Mutex
	played []string // "callID|path"
}

func (f *fakePlayer) PlayWAV(ctx context.Context, callID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, callID+"|"+filepath.Base(path))
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPipelineProcessesTurnsInOrder(t *testing.T) {
	dir := t.TempDir()
	responder := newFakeResponder()
	synth := &fakeSynth{}
	player := &fakePlayer{}

	var turns []string
	var mu sync.Mutex
	p := NewResponsePipeline(responder, synth, player, "en_0", dir,
		func(callID, userText, reply, audioPath string) {
			mu.Lock()
			turns = append(turns, userText)
			mu.Unlock()
		})
	defer p.Shutdown()

	for i := 0; i < 5; i++ {
		if !p.Submit("call-1", fmt.Sprintf("segment %d", i)) {
			t.Fatalf("Submit %d rejected", i)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(turns) == 5
	})

	mu.Lock()
	defer mu.Unlock()
	for i, text := range turns {
		if text != fmt.Sprintf("segment %d", i) {
			t.Errorf("Turn %d out of order: %s", i, text)
		}
	}
}

func TestPipelineArtifactNaming(t *testing.T) {
	dir := t.TempDir()
	responder := newFakeResponder()
	synth := &fakeSynth{}
	player := &fakePlayer{}
	p := NewResponsePipeline(responder, synth, player, "en_0", dir, nil)
	defer p.Shutdown()

	p.Submit("abc@host", "hello")
	p.Submit("abc@host", "again")

	waitFor(t, func() bool {
		synth.mu.Lock()
		defer synth.mu.Unlock()
		return len(synth.paths) == 2
	})

	synth.mu.Lock()
	defer synth.mu.Unlock()
	want0 := filepath.Join(dir, "call_abc_host_1.wav")
	want1 := filepath.Join(dir, "call_abc_host_2.wav")
	if synth.paths[0] != want0 {
		t.Errorf("Expected %s, got %s", want0, synth.paths[0])
	}
	if synth.paths[1] != want1 {
		t.Errorf("Expected %s, got %s", want1, synth.paths[1])
	}
}

func TestPipelineStageFailureIsolated(t *testing.T) {
	dir := t.TempDir()
	responder := newFakeResponder()
	responder.failOn = "bad segment"
	synth := &fakeSynth{}
	player := &fakePlayer{}

	var completed []string
	var mu sync.Mutex
	p := NewResponsePipeline(responder, synth, player, "en_0", dir,
		func(callID, userText, reply, audioPath string) {
			mu.Lock()
			completed = append(completed, userText)
			mu.Unlock()
		})
	defer p.Shutdown()

	p.Submit("call-1", "good one")
	p.Submit("call-1", "bad segment")
	p.Submit("call-1", "after failure")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completed) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if completed[0] != "good one" || completed[1] != "after failure" {
		t.Errorf("Unexpected completed turns: %v", completed)
	}
}

func TestPipelineCallsIndependent(t *testing.T) {
	dir := t.TempDir()
	responder := newFakeResponder()
	synth := &fakeSynth{}
	player := &fakePlayer{}
	p := NewResponsePipeline(responder, synth, player, "en_0", dir, nil)
	defer p.Shutdown()

	const calls = 5
	const perCall = 4
	for c := 0; c < calls; c++ {
		for i := 0; i < perCall; i++ {
			p.Submit(fmt.Sprintf("call-%d", c), fmt.Sprintf("c%d s%d", c, i))
		}
	}

	waitFor(t, func() bool {
		player.mu.Lock()
		defer player.mu.Unlock()
		return len(player.played) == calls*perCall
	})

	// playback order within each call follows submission order
	player.mu.Lock()
	defer player.mu.Unlock()
	perCallSeen := make(map[string]int)
	for _, entry := range player.played {
		callID := strings.SplitN(entry, "|", 2)[0]
		perCallSeen[callID]++
	}
	for c := 0; c < calls; c++ {
		id := fmt.Sprintf("call-%d", c)
		if perCallSeen[id] != perCall {
			t.Errorf("%s: expected %d played turns, got %d", id, perCall, perCallSeen[id])
		}
	}
}

func TestPipelineEndCallDrainsAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	responder := newFakeResponder()
	synth := &fakeSynth{}
	player := &fakePlayer{}
	p := NewResponsePipeline(responder, synth, player, "en_0", dir, nil)
	defer p.Shutdown()

	p.Submit("call-1", "last words")
	p.EndCall("call-1")

	// EndCall blocks until the queued turn finished
	player.mu.Lock()
	played := len(player.played)
	player.mu.Unlock()
	if played != 1 {
		t.Errorf("Expected queued turn to finish before EndCall returns, played=%d", played)
	}

	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.ended) != 1 || responder.ended[0] != "call-1" {
		t.Errorf("Expected conversation cleanup for call-1, got %v", responder.ended)
	}
}

func TestPipelineSubmitRacingEndCallIsSafe(t *testing.T) {
	dir := t.TempDir()

	// segments arriving while the call is torn down must be rejected or
	// queued, never crash the pipeline
	for i := 0; i < 50; i++ {
		p := NewResponsePipeline(newFakeResponder(), &fakeSynth{}, &fakePlayer{}, "en_0", dir, nil)
		p.Submit("call-1", "warmup")

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				p.Submit("call-1", "late segment")
			}
		}()
		p.EndCall("call-1")
		wg.Wait()
		p.Shutdown()
	}
}

func TestPipelineVoiceChangeAppliesToLaterTurns(t *testing.T) {
	dir := t.TempDir()
	responder := newFakeResponder()
	synth := &fakeSynth{}
	player := &fakePlayer{}
	p := NewResponsePipeline(responder, synth, player, "en_0", dir, nil)
	defer p.Shutdown()

	p.Submit("call-1", "first")
	waitFor(t, func() bool {
		synth.mu.Lock()
		defer synth.mu.Unlock()
		return len(synth.voices) == 1
	})

	p.SetVoice("en_1")
	p.Submit("call-1", "second")
	waitFor(t, func() bool {
		synth.mu.Lock()
		defer synth.mu.Unlock()
		return len(synth.voices) == 2
	})

	synth.mu.Lock()
	defer synth.mu.Unlock()
	if synth.voices[0] != "en_0" || synth.voices[1] != "en_1" {
		t.Errorf("Expected voices [en_0 en_1], got %v", synth.voices)
	}
}

func TestPipelineRejectsEmptyAndClosed(t *testing.T) {
	dir := t.TempDir()
	p := NewResponsePipeline(newFakeResponder(), &fakeSynth{}, &fakePlayer{}, "en_0", dir, nil)

	if p.Submit("call-1", "   ") {
		t.Error("Blank segment should be rejected")
	}

	p.Shutdown()
	if p.Submit("call-1", "hello") {
		t.Error("Submit after Shutdown should be rejected")
	}
}
