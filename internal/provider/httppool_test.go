package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/council"
	"conclave/internal/health"
)

func chatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func completionBody(content any) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{"prompt_tokens": 7, "completion_tokens": 11},
	}
}

func TestSendRequestSuccess(t *testing.T) {
	var gotAuth, gotModel string
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel, _ = req["model"].(string)
		_ = json.NewEncoder(w).Encode(completionBody("the answer"))
	})

	pool, err := NewHTTPPool(srv.URL, "sk-test", health.NewTracker(3))
	require.NoError(t, err)

	resp, err := pool.SendRequest(context.Background(), council.Member{ID: "m1", Model: "gpt-4o"}, "question")
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "the answer", resp.Content)
	assert.Equal(t, 7, resp.Usage.Prompt)
	assert.Equal(t, 11, resp.Usage.Completion)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotModel)
}

func TestSendRequestNormalizesStructuredContent(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionBody(map[string]any{"text": "structured answer"}))
	})
	pool, err := NewHTTPPool(srv.URL, "", health.NewTracker(3))
	require.NoError(t, err)

	resp, err := pool.SendRequest(context.Background(), council.Member{ID: "m1"}, "q")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "structured answer", resp.Content)
}

func TestSendRequestProviderErrorIsDataNotError(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	tracker := health.NewTracker(3)
	pool, err := NewHTTPPool(srv.URL, "", tracker)
	require.NoError(t, err)

	resp, err := pool.SendRequest(context.Background(), council.Member{ID: "m1"}, "q")
	require.NoError(t, err, "provider failures are response data, not Go errors")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Err, "429")
	assert.Equal(t, 1, tracker.FailureCount("m1"))
}

func TestSendRequestDisabledProviderShortCircuits(t *testing.T) {
	called := false
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	tracker := health.NewTracker(3)
	tracker.MarkDisabled("m1", "maintenance")
	pool, err := NewHTTPPool(srv.URL, "", tracker)
	require.NoError(t, err)

	resp, err := pool.SendRequest(context.Background(), council.Member{ID: "m1"}, "q")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Err, "disabled")
	assert.False(t, called, "disabled providers are never dialed")
}

func TestSendRequestSuccessResetsFailures(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionBody("ok"))
	})
	tracker := health.NewTracker(5)
	tracker.RecordFailure("m1")
	pool, err := NewHTTPPool(srv.URL, "", tracker)
	require.NoError(t, err)

	_, err = pool.SendRequest(context.Background(), council.Member{ID: "m1"}, "q")
	require.NoError(t, err)
	assert.Equal(t, 0, tracker.FailureCount("m1"))
}

func TestNewHTTPPoolRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPPool("", "", nil)
	assert.Error(t, err)
}
