package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestComplete(t *testing.T) {
	var captured ChatRequest
	var headers http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		headers = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"new post"}}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	got, err := c.Complete(context.Background(), ChatRequest{
		Model:     "meta-llama/llama-3.1-8b-instruct",
		Messages:  []Message{{Role: "user", Content: "hi"}},
		MaxTokens: 120,
		Stop:      []string{"---"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "new post" {
		t.Errorf("content = %q, want %q", got, "new post")
	}
	if headers.Get("Authorization") != "Bearer test-key" {
		t.Errorf("Authorization = %q", headers.Get("Authorization"))
	}
	if headers.Get("X-Title") != "ebooks" {
		t.Errorf("X-Title = %q", headers.Get("X-Title"))
	}
	if captured.MaxTokens != 120 || len(captured.Stop) != 1 {
		t.Errorf("request = %+v", captured)
	}
}

func TestComplete_RetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"finally"}}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("k", srv.URL)
	c.backoff = time.Millisecond

	got, err := c.Complete(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "finally" {
		t.Errorf("content = %q", got)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestComplete_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("k", srv.URL)
	c.backoff = time.Millisecond

	_, err := c.Complete(context.Background(), ChatRequest{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "rate limited after 3 retries") {
		t.Fatalf("err = %v", err)
	}
	if !isRateLimit(err) {
		t.Error("wrapped error should still be a rate limit")
	}
	if n := calls.Load(); n != maxRetries {
		t.Errorf("calls = %d, want %d", n, maxRetries)
	}
}

func TestComplete_ServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), ChatRequest{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("err = %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 5xx)", n)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), ChatRequest{Model: "m"})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}
