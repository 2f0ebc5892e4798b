package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/careops/internal/config"
)

func fakeOpenAI(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientWithoutProviderIsDisabled(t *testing.T) {
	c, err := NewClient(context.Background(), config.LLMConfig{})
	require.NoError(t, err)
	assert.False(t, c.IsEnabled())
	assert.Equal(t, ProviderNone, c.GetProvider())

	_, err = c.Complete(context.Background(), "sys", "user")
	assert.Error(t, err)
}

func TestNewClientWithoutKeyIsDisabled(t *testing.T) {
	for _, p := range []string{"gemini", "openai", "anthropic"} {
		c, err := NewClient(context.Background(), config.LLMConfig{Provider: p})
		require.NoError(t, err, p)
		assert.False(t, c.IsEnabled(), p)
	}
}

func TestOpenAIComplete(t *testing.T) {
	srv := fakeOpenAI(t, "Stay indoors today.")
	c := NewOpenAIClient("test-key", "", srv.URL+"/v1")
	require.True(t, c.IsEnabled())

	text, err := c.Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "Stay indoors today.", text)
}

func TestQuotaBlocksCompletion(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	srv := fakeOpenAI(t, "ok")
	c := NewOpenAIClient("test-key", "", srv.URL+"/v1")
	WithQuota(NewQuota(rdb, 2, 0, 0))(c)

	_, err := c.Complete(context.Background(), "s", "u")
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "s", "u")
	require.Error(t, err, "90%% of 2 rpm leaves room for one request only")
	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "RPM", qe.Limit)
}
