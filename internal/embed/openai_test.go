package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryOpenAIConfig(serverURL string) OpenAIConfig {
	cfg := DefaultOpenAIConfig()
	cfg.BaseURL = serverURL
	cfg.Dimensions = 4
	cfg.Timeout = 5 * time.Second
	cfg.MaxRetries = 2
	return cfg
}

func writeOpenAIEmbedResponse(w http.ResponseWriter, n int, dims int) {
	resp := openAIEmbedResponse{Model: "test-model"}
	for i := 0; i < n; i++ {
		vec := make([]float32, dims)
		for j := range vec {
			vec[j] = float32(i + 1)
		}
		resp.Data = append(resp.Data, openAIEmbedResponseItem{Embedding: vec, Index: i})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestOpenAIEmbedder_EmbedSucceedsOnFirstTry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeOpenAIEmbedResponse(w, 1, 4)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(context.Background(), fastRetryOpenAIConfig(srv.URL))
	require.NoError(t, err)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOpenAIEmbedder_RetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limited"}`))
			return
		}
		writeOpenAIEmbedResponse(w, 1, 4)
	}))
	defer srv.Close()

	cfg := fastRetryOpenAIConfig(srv.URL)
	cfg.Dimensions = 4
	e, err := NewOpenAIEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestOpenAIEmbedder_401DoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	cfg := fastRetryOpenAIConfig(srv.URL)
	cfg.Dimensions = 4
	e, err := NewOpenAIEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Embed(context.Background(), "should fail fast")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls)) // one attempt, no retries on a fatal error
}

func TestOpenAIEmbedder_WhitespaceTextSentAsSingleSpace(t *testing.T) {
	var gotInput []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotInput = req.Input
		writeOpenAIEmbedResponse(w, len(req.Input), 4)
	}))
	defer srv.Close()

	cfg := fastRetryOpenAIConfig(srv.URL)
	cfg.Dimensions = 4
	e, err := NewOpenAIEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	require.Len(t, gotInput, 1)
	assert.Equal(t, " ", gotInput[0])
}

func TestOpenAIEmbedder_EmptyBatchNeverCallsServer(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeOpenAIEmbedResponse(w, 1, 4)
	}))
	defer srv.Close()

	cfg := fastRetryOpenAIConfig(srv.URL)
	cfg.Dimensions = 4
	e, err := NewOpenAIEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer e.Close()

	calls = 0
	results, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestOpenAIEmbedder_ClosedEmbedderRejectsCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOpenAIEmbedResponse(w, 1, 4)
	}))
	defer srv.Close()

	cfg := fastRetryOpenAIConfig(srv.URL)
	cfg.Dimensions = 4
	e, err := NewOpenAIEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestOpenAIEmbedder_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastRetryOpenAIConfig(srv.URL)
	cfg.Dimensions = 4
	cfg.MaxRetries = 1
	e, err := NewOpenAIEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer e.Close()

	for i := 0; i < 6; i++ {
		_, _ = e.Embed(context.Background(), "x")
	}
	assert.Equal(t, "open", e.circuit.State().String())
}
