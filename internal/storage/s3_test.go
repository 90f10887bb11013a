package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestS3(t *testing.T, endpoint, prefix string) *S3Storage {
	t.Helper()
	s, err := NewS3Storage(context.Background(), t.TempDir(), S3Config{
		Bucket:          "datasets",
		Region:          "us-east-1",
		Prefix:          prefix,
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	})
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}
	return s
}

func TestNewS3Storage(t *testing.T) {
	s := newTestS3(t, "http://localhost:4566/", "/hearalert/")

	if s.bucket != "datasets" {
		t.Errorf("bucket = %v, want %v", s.bucket, "datasets")
	}
	if s.region != "us-east-1" {
		t.Errorf("region = %v, want %v", s.region, "us-east-1")
	}
	if s.endpoint != "http://localhost:4566" {
		t.Errorf("endpoint = %v, want trailing slash trimmed", s.endpoint)
	}
	if got := s.Key("manifest.json"); got != "hearalert/manifest.json" {
		t.Errorf("Key() = %v, want %v", got, "hearalert/manifest.json")
	}
}

func TestS3Storage_Key_NoPrefix(t *testing.T) {
	s := newTestS3(t, "", "")
	if got := s.Key("manifest.json"); got != "manifest.json" {
		t.Errorf("Key() = %v, want %v", got, "manifest.json")
	}
}

func TestS3Storage_InheritsLocalStorage(t *testing.T) {
	s := newTestS3(t, "http://localhost:4566", "")
	ctx := context.Background()

	w, err := s.WriteFile(ctx, "siren/siren_0000_synth.wav", writeString("test data"))
	if err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	rc, err := s.Open(ctx, w.Path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if string(content) != "test data" {
		t.Errorf("got %q, want %q", string(content), "test data")
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "siren", "siren_0000_synth.wav")); err != nil {
		t.Errorf("file not written under root: %v", err)
	}
}

func TestS3Storage_Publish_MockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT method, got %s", r.Method)
		}
		if r.URL.Path != "/datasets/hearalert/manifest.json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if !strings.Contains(string(body), `{"ok":true}`) {
			t.Errorf("unexpected body: %s", string(body))
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := newTestS3(t, server.URL, "hearalert")

	url, err := s.Publish(context.Background(), "manifest.json", strings.NewReader(`{"ok":true}`))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	expectedURL := server.URL + "/datasets/hearalert/manifest.json"
	if url != expectedURL {
		t.Errorf("url = %v, want %v", url, expectedURL)
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"manifest.json", "application/json"},
		{"training.yaml", "application/yaml"},
		{"siren/siren_0000.wav", "audio/wav"},
		{"notes.txt", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := contentType(tt.key); got != tt.want {
			t.Errorf("contentType(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
