package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func ollamaServer(t *testing.T, models []string, pulls *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			var resp struct {
				Models []map[string]string `json:"models"`
			}
			for _, m := range models {
				resp.Models = append(resp.Models, map[string]string{"name": m})
			}
			json.NewEncoder(w).Encode(resp)
		case "/api/pull":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			*pulls = append(*pulls, body["name"].(string))
			w.Write([]byte(`{"status":"pulling manifest"}` + "\n"))
			w.Write([]byte(`{"status":"downloading","total":100,"completed":50}` + "\n"))
			w.Write([]byte(`{"status":"success"}` + "\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsureOllama_Ready(t *testing.T) {
	var pulls []string
	srv := ollamaServer(t, []string{"llama3.2:latest"}, &pulls)

	var out bytes.Buffer
	if err := EnsureOllama(context.Background(), srv.URL+"/v1", "llama3.2", &out); err != nil {
		t.Fatalf("EnsureOllama: %v", err)
	}
	if len(pulls) != 0 {
		t.Fatalf("unexpected pulls: %v", pulls)
	}
	if !strings.Contains(out.String(), "model llama3.2: ready") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestEnsureOllama_Pulls(t *testing.T) {
	var pulls []string
	srv := ollamaServer(t, nil, &pulls)

	var out bytes.Buffer
	if err := EnsureOllama(context.Background(), srv.URL+"/v1", "qwen2.5", &out); err != nil {
		t.Fatalf("EnsureOllama: %v", err)
	}
	if len(pulls) != 1 || pulls[0] != "qwen2.5" {
		t.Fatalf("pulls = %v", pulls)
	}
	if !strings.Contains(out.String(), "downloading 50%") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestEnsureOllama_PullError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.Write([]byte(`{"models":[]}`))
			return
		}
		w.Write([]byte(`{"error":"pull model manifest: file does not exist"}` + "\n"))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := EnsureOllama(context.Background(), srv.URL, "nope", &out)
	if err == nil || !strings.Contains(err.Error(), "file does not exist") {
		t.Fatalf("err = %v", err)
	}
}

func TestEnsureOllama_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var out bytes.Buffer
	if err := EnsureOllama(context.Background(), url, "llama3.2", &out); err == nil {
		t.Fatal("expected error for unreachable Ollama")
	}
	if err := EnsureOllama(context.Background(), url, DefaultModel, &out); err == nil || !strings.Contains(err.Error(), "generator.model") {
		t.Fatalf("expected model hint, got %v", err)
	}
}

func TestHasModel(t *testing.T) {
	models := []string{"llama3.2:latest", "mistral:7b"}
	for name, want := range map[string]bool{"llama3.2": true, "mistral:7b": true, "mistral": true, "llama3": false} {
		if got := hasModel(models, name); got != want {
			t.Errorf("hasModel(%q) = %v, want %v", name, got, want)
		}
	}
}
