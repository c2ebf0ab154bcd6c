package chatproxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quillback/research-relay/internal/auth"
	"github.com/quillback/research-relay/internal/upstream"
)

type fakeBackend struct {
	deltas  []string
	openErr error
	midErr  error

	gotReq *upstream.ChatCompletionRequest
}

func (f *fakeBackend) StreamChatCompletion(ctx context.Context, req *upstream.ChatCompletionRequest) (<-chan upstream.ChatResult, error) {
	f.gotReq = req
	if f.openErr != nil {
		return nil, f.openErr
	}
	ch := make(chan upstream.ChatResult, len(f.deltas)+1)
	for _, d := range f.deltas {
		ch <- upstream.ChatResult{Delta: d}
	}
	if f.midErr != nil {
		ch <- upstream.ChatResult{Err: f.midErr}
	}
	close(ch)
	return ch, nil
}

func newChatRouter(backend ChatBackend, models []string, outDir string) (*chi.Mux, *Sessions) {
	sessions := NewSessions(time.Minute)
	h := NewHandler(sessions, backend, auth.NewAllowlist([]string{"alice"}), models, outDir, slog.Default())
	router := chi.NewRouter()
	router.Route("/api/chat", h.Routes)
	return router, sessions
}

func TestChatHandleStart(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"valid", `{"user":"alice","model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, http.StatusOK, ""},
		{"unknown user", `{"user":"mallory","model":"gpt-4o","messages":[]}`, http.StatusForbidden, "unknown user"},
		{"missing messages", `{"user":"alice","model":"gpt-4o"}`, http.StatusBadRequest, ""},
		{"unknown model", `{"user":"alice","model":"gpt-9","messages":[]}`, http.StatusBadRequest, "got unknown model gpt-9"},
		{"malformed body", `{`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, sessions := newChatRouter(&fakeBackend{}, []string{"gpt-4o"}, "")

			req := httptest.NewRequest(http.MethodPost, "/api/chat/start", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp["sessionId"] == "" {
				t.Error("response has no sessionId")
			}
			if sessions.Len() != 1 {
				t.Errorf("sessions len = %d, want 1", sessions.Len())
			}
		})
	}
}

func TestChatHandleStream(t *testing.T) {
	outDir := t.TempDir()
	backend := &fakeBackend{deltas: []string{"Hel", "lo"}}
	router, sessions := newChatRouter(backend, nil, outDir)

	sess := sessions.Put("alice", "gpt-4o", "be brief", []upstream.ChatMessage{
		{Role: "user", Content: "hi"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/chat/stream/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	lines := dataLines(rec.Body.String())
	want := []string{`"Hel"`, `"lo"`, "null"}
	if len(lines) != len(want) {
		t.Fatalf("frames = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("frames = %v, want %v", lines, want)
		}
	}

	// The system prompt is prepended before forwarding.
	if len(backend.gotReq.Messages) != 2 || backend.gotReq.Messages[0].Role != "system" {
		t.Errorf("forwarded messages = %+v", backend.gotReq.Messages)
	}

	// The transcript lands in the archive with the assistant turn appended.
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("archive entries = %d, want 1", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(outDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	var transcript struct {
		User     string                 `json:"user"`
		Messages []upstream.ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &transcript); err != nil {
		t.Fatal(err)
	}
	if transcript.User != "alice" || len(transcript.Messages) != 2 {
		t.Fatalf("transcript = %+v", transcript)
	}
	last := transcript.Messages[1]
	if last.Role != "assistant" || last.Content != "Hello" {
		t.Errorf("assistant turn = %+v", last)
	}

	// The session was consumed.
	if sessions.Len() != 0 {
		t.Errorf("sessions len = %d, want 0", sessions.Len())
	}
}

func TestChatHandleStream_SessionNotFound(t *testing.T) {
	router, _ := newChatRouter(&fakeBackend{}, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/chat/stream/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestChatHandleStream_BackendOpenError(t *testing.T) {
	backend := &fakeBackend{openErr: errors.New("upstream down")}
	router, sessions := newChatRouter(backend, nil, "")
	sess := sessions.Put("alice", "gpt-4o", "", []upstream.ChatMessage{{Role: "user", Content: "hi"}})

	req := httptest.NewRequest(http.MethodGet, "/api/chat/stream/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	lines := dataLines(rec.Body.String())
	if len(lines) != 1 || !strings.Contains(lines[0], `"error"`) {
		t.Fatalf("frames = %v, want one error frame", lines)
	}
}

func TestChatHandleStream_MidStreamError(t *testing.T) {
	backend := &fakeBackend{deltas: []string{"partial"}, midErr: errors.New("stream cut")}
	router, sessions := newChatRouter(backend, nil, "")
	sess := sessions.Put("alice", "gpt-4o", "", []upstream.ChatMessage{{Role: "user", Content: "hi"}})

	req := httptest.NewRequest(http.MethodGet, "/api/chat/stream/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	lines := dataLines(rec.Body.String())
	if len(lines) != 2 {
		t.Fatalf("frames = %v, want delta then error", lines)
	}
	if lines[0] != `"partial"` || !strings.Contains(lines[1], "stream cut") {
		t.Errorf("frames = %v", lines)
	}
}

func dataLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}
