package audio

import (
	"sync"
	"testing"
)

func TestRecorderLifecycle(t *testing.T) {
	r := NewRecorder(8000)

	// chunks before Start are discarded
	r.AddChunk([]int16{1, 2, 3})
	if r.Len() != 0 {
		t.Error("Chunks before Start should be discarded")
	}

	r.Start()
	if !r.Recording() {
		t.Error("Recorder should be recording after Start")
	}

	r.AddChunk([]int16{1, 2})
	r.AddChunk([]int16{3, 4, 5})

	got := r.Stop()
	if r.Recording() {
		t.Error("Recorder should not be recording after Stop")
	}

	expected := []int16{1, 2, 3, 4, 5}
	if len(got) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], got[i])
		}
	}

	// chunks after Stop are discarded
	r.AddChunk([]int16{9, 9})
	if r.Len() != 5 {
		t.Error("Chunks after Stop should be discarded")
	}

	// second Stop returns nil
	if r.Stop() != nil {
		t.Error("Second Stop should return nil")
	}
}

func TestRecorderRestart(t *testing.T) {
	r := NewRecorder(8000)
	r.Start()
	r.AddChunk([]int16{1, 2, 3})
	r.Stop()

	r.Start()
	if r.Len() != 0 {
		t.Error("Start should discard the previous buffer")
	}
	r.AddChunk([]int16{7})
	got := r.Stop()
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("Expected [7], got %v", got)
	}
}

func TestRecorderConcurrentChunks(t *testing.T) {
	r := NewRecorder(8000)
	r.Start()

	var wg sync.WaitGroup
	const writers = 8
	const chunksPerWriter = 100
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < chunksPerWriter; i++ {
				r.AddChunk([]int16{1, 2, 3, 4})
			}
		}()
	}
	wg.Wait()

	got := r.Stop()
	if len(got) != writers*chunksPerWriter*4 {
		t.Errorf("Expected %d samples, got %d", writers*chunksPerWriter*4, len(got))
	}
}
