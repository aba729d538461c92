package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tren/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Timeout: 2 * time.Second})
	c.SetHTTPClient(srv.Client())
	return c
}

func TestChatSendsSystemAndUserMessages(t *testing.T) {
	var got ChatCompletionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "tren", r.Header.Get("X-Title"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","model":"gpt-oss","choices":[{"index":0,"message":{"role":"assistant","content":"  Hallo Welt \n"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`)
	})

	temp := 0.2
	resp, err := c.Chat(context.Background(), ChatRequest{
		Model:        "gpt-oss",
		SystemPrompt: "Translate from English to German.",
		UserPrompt:   "Hello world",
		Temperature:  &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hallo Welt", resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-oss", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, Message{Role: "system", Content: "Translate from English to German."}, got.Messages[0])
	assert.Equal(t, Message{Role: "user", Content: "Hello world"}, got.Messages[1])
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-9)
	assert.Nil(t, got.MaxTokens)
}

func TestChatOmitsEmptySystemPrompt(t *testing.T) {
	var got ChatCompletionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	})

	_, err := c.Chat(context.Background(), ChatRequest{Model: "m", UserPrompt: "hi"})
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestChatNoAuthorizationWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Title: "tren/test"})
	c.SetHTTPClient(srv.Client())
	_, err := c.Chat(context.Background(), ChatRequest{Model: "m", UserPrompt: "hi"})
	require.NoError(t, err)
}

func TestChatStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			})

			_, err := c.Chat(context.Background(), ChatRequest{Model: "m", UserPrompt: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.status, StatusCode(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestChatErrorBodyTruncated(t *testing.T) {
	long := make([]byte, 4*maxErrorBody)
	for i := range long {
		long[i] = 'x'
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write(long)
	})

	_, err := c.Chat(context.Background(), ChatRequest{Model: "m", UserPrompt: "hi"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Less(t, len(se.Body), maxErrorBody+8)
}

func TestChatErrorBodyKeepsRunesWhole(t *testing.T) {
	// 'ü' is two bytes; the odd prefix puts a rune across the limit
	body := "x" + strings.Repeat("ü", maxErrorBody)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(body))
	})

	_, err := c.Chat(context.Background(), ChatRequest{Model: "m", UserPrompt: "hi"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, utf8.ValidString(se.Body))
	assert.True(t, strings.HasSuffix(se.Body, "…"))
	assert.LessOrEqual(t, len(strings.TrimSuffix(se.Body, "…")), maxErrorBody)
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, "short", truncateBody([]byte("short"), 10))
	assert.Equal(t, "ab…", truncateBody([]byte("abü"), 3))
	assert.Equal(t, "a\uFFFDb", truncateBody([]byte{'a', 0xff, 'b'}, 10))
}

func TestChatNoChoicesIsRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	_, err := c.Chat(context.Background(), ChatRequest{Model: "m", UserPrompt: "hi"})
	require.ErrorIs(t, err, ErrNoChoices)
	assert.True(t, IsRetryable(err))
}

func TestChatMalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":`)
	})

	_, err := c.Chat(context.Background(), ChatRequest{Model: "m", UserPrompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal response")
	assert.False(t, IsRetryable(err))
}

func TestChatTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL})
	hc := srv.Client()
	hc.Timeout = 50 * time.Millisecond
	c.SetHTTPClient(hc)

	_, err := c.Chat(context.Background(), ChatRequest{Model: "m", UserPrompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err), "client timeout: %v", err)
}

func TestChatCancelledIsNotRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"late"}}]}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Chat(ctx, ChatRequest{Model: "m", UserPrompt: "hi"})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestPrivateEndpointBlockedByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Chat(context.Background(), ChatRequest{Model: "m", UserPrompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private IP address blocked")
}

func TestPrivateEndpointAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"lokal"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, AllowPrivateNet: true})
	resp, err := c.Chat(context.Background(), ChatRequest{Model: "m", UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "lokal", resp.Content)
}

func TestRateLimit(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	})
	// one request per minute: the burst allows the first, the second must wait
	c2 := NewClient(Config{BaseURL: c.BaseURL(), RequestsPerMinute: 1})
	c2.httpClient = c.httpClient

	_, err := c2.Chat(context.Background(), ChatRequest{Model: "m", UserPrompt: "one"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c2.Chat(ctx, ChatRequest{Model: "m", UserPrompt: "two"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
	assert.Equal(t, 1, calls)
}

func TestIsRetryableNetworkErrors(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.Wrap(syscall.ECONNREFUSED, "dial")))
	assert.True(t, IsRetryable(errors.Wrap(syscall.ECONNRESET, "read")))
	assert.True(t, IsRetryable(errors.Wrap(context.DeadlineExceeded, "send")))
	assert.False(t, IsRetryable(errors.Wrap(context.Canceled, "send")))
	assert.False(t, IsRetryable(errors.New("bad request body")))
}
