package voice_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/cellbridge/smsgw/voice"
)

func TestSynthesize(t *testing.T) {
	audio := []byte("RIFFfakewav")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["input"] != "hello" {
			t.Errorf("input = %q", req["input"])
		}
		if req["response_format"] != "wav" {
			t.Errorf("response_format = %q", req["response_format"])
		}
		w.Write(audio)
	}))
	defer srv.Close()

	client := voice.NewTTSClient(voice.TTSConfig{Endpoint: srv.URL, APIKey: "test-key"})
	path, err := client.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	defer os.Remove(path)

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audio file: %v", err)
	}
	if string(got) != string(audio) {
		t.Errorf("audio file content = %q, want %q", got, audio)
	}
}

func TestSynthesizeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := voice.NewTTSClient(voice.TTSConfig{Endpoint: srv.URL})
	if _, err := client.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
