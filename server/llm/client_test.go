package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ai-oracle/server/sim"
)

func testClient(srv *httptest.Server) *Client {
	c := NewClient(Config{
		APIKey:       "k",
		Model:        "test-model",
		BaseURL:      srv.URL,
		HeaderName:   "Authorization",
		HeaderPrefix: "Bearer ",
		ExtraHeaders: map[string]string{"HTTP-Referer": "https://example.com"},
	}, nil)
	c.backoffs = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return c
}

func chatReply(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
	return b
}

func TestSetHeaderPreserveCase(t *testing.T) {
	hdr := http.Header{}
	setHeaderPreserveCase(hdr, "HTTP-Referer", "https://example.com/app")
	if vals := hdr["HTTP-Referer"]; len(vals) != 1 || vals[0] != "https://example.com/app" {
		t.Fatalf("expected HTTP-Referer slice to be preserved, got %+v", vals)
	}
	if _, exists := hdr["Http-Referer"]; exists {
		t.Fatalf("unexpected canonical header variant present: %+v", hdr)
	}
	setHeaderPreserveCase(hdr, "  ", "value")
	setHeaderPreserveCase(hdr, "X-Test", "   ")
	if got := hdr.Get("X-Test"); got != "" {
		t.Fatalf("expected blank header values to be skipped, got %q", got)
	}
}

func TestResolveSendsSchemaAndParses(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("unexpected auth header %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Write(chatReply(`{"happened":false,"explanation":"open race","outcomes":[
			{"name":"Team Red","shortName":"Red","detail":"form","emoji":"🔴","baseStrength":72,"volatility":15},
			{"name":"Team Blue","shortName":"","detail":"depth","emoji":"🔵","baseStrength":"130","volatility":20}]}`))
	}))
	defer srv.Close()

	res, err := testClient(srv).Resolve(context.Background(), "  Who wins?  ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Question != "Who wins?" || res.Happened || len(res.Outcomes) != 2 {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if res.Outcomes[1].BaseStrength != 100 || res.Outcomes[1].ShortName != "Team Blue" {
		t.Fatalf("expected clamped strength and defaulted short name, got %+v", res.Outcomes[1])
	}
	rf, _ := gotBody["response_format"].(map[string]any)
	if rf["type"] != "json_schema" || gotBody["model"] != "test-model" {
		t.Fatalf("unexpected request body %v", gotBody)
	}
}

func TestResolveExtractsJSONFromProse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply("Sure! Here you go:\n```json\n{\"happened\":true,\"explanation\":\"It already happened.\",\"outcomes\":[]}\n```"))
	}))
	defer srv.Close()

	res, err := testClient(srv).Resolve(context.Background(), "Did it happen?")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Happened || res.Explanation != "It already happened." {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestResolveRejectsEmptyQuestion(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	if _, err := c.Resolve(context.Background(), " "); !errors.Is(err, sim.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCompleteRetriesRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(chatReply(`{"ok":true}`))
	}))
	defer srv.Close()

	text, err := testClient(srv).Complete(context.Background(), "s", "u", Options{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != `{"ok":true}` || calls.Load() != 3 {
		t.Fatalf("expected success on third call, got %q after %d", text, calls.Load())
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv).Complete(context.Background(), "s", "u", Options{})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestCompleteGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := testClient(srv).Complete(context.Background(), "s", "u", Options{}); err == nil {
		t.Fatalf("expected error after retries")
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls.Load())
	}
}

func TestParseResolutionRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "no json here", `{"happened":false,"outcomes":[{"name":""}]}`} {
		if _, err := parseResolution(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
