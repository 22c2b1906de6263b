package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/LingByte/LingCall/pkg/config"
)

func newOllamaTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Stream {
			http.Error(w, "streaming not expected", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:    req.Model,
			Response: "Hello, how can I help you today?",
			Done:     true,
		})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaTagsResponse{
			Models: []OllamaModel{
				{Name: "llama2:latest", Size: 3825819519},
				{Name: "mistral:latest", Size: 4109865159},
			},
		})
	})
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaVersionResponse{Version: "0.1.32"})
	})
	return httptest.NewServer(mux)
}

func TestOllamaGenerate(t *testing.T) {
	srv := newOllamaTestServer(t)
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	reply, err := client.Generate(context.Background(), "llama2", "Caller: hi\nAssistant:", "be brief", 0.7)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply != "Hello, how can I help you today?" {
		t.Errorf("Unexpected reply: %q", reply)
	}
}

func TestOllamaListModels(t *testing.T) {
	srv := newOllamaTestServer(t)
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("Expected 2 models, got %d", len(models))
	}
	if models[0].Name != "llama2:latest" {
		t.Errorf("Unexpected model name: %s", models[0].Name)
	}
}

func TestOllamaTestConnection(t *testing.T) {
	srv := newOllamaTestServer(t)
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	version, count, err := client.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("TestConnection failed: %v", err)
	}
	if version != "0.1.32" {
		t.Errorf("Expected version 0.1.32, got %s", version)
	}
	if count != 2 {
		t.Errorf("Expected 2 models, got %d", count)
	}
}

func TestOllamaUnreachable(t *testing.T) {
	client := NewOllamaClient("http://127.0.0.1:1")
	if _, err := client.Version(context.Background()); err == nil {
		t.Error("Expected error for unreachable daemon")
	}
}

func TestServiceOllamaHistory(t *testing.T) {
	srv := newOllamaTestServer(t)
	defer srv.Close()

	svc := NewService(config.LLMConfig{
		Provider:     "ollama",
		URL:          srv.URL,
		Model:        "llama2",
		SystemPrompt: "be brief",
		Temperature:  0.7,
	}, logrus.New())

	reply, err := svc.Reply(context.Background(), "call-1", "hello")
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply == "" {
		t.Error("Expected non-empty reply")
	}

	svc.mu.Lock()
	turns := len(svc.history["call-1"])
	svc.mu.Unlock()
	if turns != 2 {
		t.Errorf("Expected 2 history turns (user + assistant), got %d", turns)
	}

	svc.EndConversation("call-1")
	svc.mu.Lock()
	_, exists := svc.history["call-1"]
	svc.mu.Unlock()
	if exists {
		t.Error("History should be dropped after EndConversation")
	}
}

func TestServiceUnknownProvider(t *testing.T) {
	svc := NewService(config.LLMConfig{Provider: "bogus"}, logrus.New())
	if _, err := svc.Reply(context.Background(), "c", "hi"); err == nil {
		t.Error("Expected error for unknown provider")
	}
}
