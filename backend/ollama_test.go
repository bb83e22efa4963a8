package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/c12/router/contracts"
)

// generateCall is the part of Ollama's generate request the tests look at.
type generateCall struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Options map[string]interface{} `json:"options"`
}

// ollamaStub fakes the Ollama HTTP API: heartbeats, and generate calls
// answered with a canned completion.
type ollamaStub struct {
	mu    sync.Mutex
	calls []generateCall
}

func (s *ollamaStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}

		var call generateCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.calls = append(s.calls, call)
		s.mu.Unlock()

		if call.Model == "missing" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"model 'missing' not found"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"model":%q,"response":"stub completion","done":true,"prompt_eval_count":7,"eval_count":12}`, call.Model)
	})
}

func (s *ollamaStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *ollamaStub) lastCall() generateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func newStubBackend(t *testing.T) (*OllamaBackend, *ollamaStub) {
	t.Helper()
	stub := &ollamaStub{}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	b, err := NewOllamaBackend(srv.URL)
	if err != nil {
		t.Fatalf("NewOllamaBackend failed: %v", err)
	}
	return b, stub
}

func TestNewOllamaBackend_InvalidHost(t *testing.T) {
	if _, err := NewOllamaBackend("://missing-scheme"); err == nil {
		t.Error("NewOllamaBackend succeeded on malformed host, want error")
	}
}

func TestOllamaBackend_Ping(t *testing.T) {
	b, _ := newStubBackend(t)
	if err := b.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestOllamaBackend_PingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	b, err := NewOllamaBackend(srv.URL)
	if err != nil {
		t.Fatalf("NewOllamaBackend failed: %v", err)
	}
	if err := b.Ping(context.Background()); err == nil {
		t.Error("Ping succeeded against a closed server, want error")
	}
}

func TestOllamaBackend_LoadAndGenerate(t *testing.T) {
	b, stub := newStubBackend(t)
	desc := contracts.ModelDescriptor{ID: "gpt2", BackendName: "gpt2-local"}
	ctx := context.Background()

	runner, err := b.Load(ctx, desc)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	loadCall := stub.lastCall()
	if loadCall.Model != "gpt2-local" {
		t.Errorf("load request model = %q, want gpt2-local", loadCall.Model)
	}
	if loadCall.Prompt != "" {
		t.Errorf("load request prompt = %q, want empty warmup", loadCall.Prompt)
	}

	res, err := runner.Generate(ctx, "how green is the grid", 256)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	genCall := stub.lastCall()
	if genCall.Prompt != "how green is the grid" {
		t.Errorf("generate request prompt = %q", genCall.Prompt)
	}
	if got, ok := genCall.Options["num_predict"].(float64); !ok || int(got) != 256 {
		t.Errorf("num_predict = %v, want 256", genCall.Options["num_predict"])
	}

	if res.Text != "stub completion" {
		t.Errorf("Text = %q, want stub completion", res.Text)
	}
	if res.PromptTokens != 7 || res.CompletionTokens != 12 {
		t.Errorf("tokens = %d/%d, want 7/12", res.PromptTokens, res.CompletionTokens)
	}
	if runner.ModelID() != "gpt2" {
		t.Errorf("ModelID = %q, want gpt2", runner.ModelID())
	}
}

func TestOllamaBackend_LoadMissingModel(t *testing.T) {
	b, _ := newStubBackend(t)

	_, err := b.Load(context.Background(), contracts.ModelDescriptor{ID: "missing", BackendName: "missing"})
	if err == nil {
		t.Fatal("Load succeeded for a model the server rejects, want error")
	}
	if !strings.Contains(err.Error(), "failed to load model missing") {
		t.Errorf("error = %v, want load failure context", err)
	}
}

func TestOllamaRunner_CloseUnloads(t *testing.T) {
	b, stub := newStubBackend(t)
	desc := contracts.ModelDescriptor{ID: "gpt2", BackendName: "gpt2-local"}

	runner, err := b.Load(context.Background(), desc)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	before := stub.callCount()

	if err := runner.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := stub.callCount(); got != before+1 {
		t.Fatalf("generate calls = %d after Close, want %d (unload request)", got, before+1)
	}
	unload := stub.lastCall()
	if unload.Model != "gpt2-local" || unload.Prompt != "" {
		t.Errorf("unload request = %+v, want empty prompt for gpt2-local", unload)
	}
}

func TestOllamaRunner_ClosePinnedIsLocal(t *testing.T) {
	b, stub := newStubBackend(t)
	desc := contracts.ModelDescriptor{ID: "tinyllama", BackendName: "tinyllama", Pinned: true}

	runner, err := b.Load(context.Background(), desc)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	before := stub.callCount()

	if err := runner.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := stub.callCount(); got != before {
		t.Errorf("generate calls = %d after pinned Close, want %d (no unload)", got, before)
	}
}
