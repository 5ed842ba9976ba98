package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"gokpi/internal/errors"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)
	return c.(*OpenAIClient)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestChatCompletion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		assert.EqualValues(t, 1024, body["max_tokens"])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Revenue is down."}}],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`))
	})

	resp, err := c.ChatCompletion(context.Background(), "gpt-4o-mini", "summarize", 0)
	require.NoError(t, err)
	assert.Equal(t, "Revenue is down.", resp.Content)
	assert.Equal(t, 14, resp.Usage.TotalTokens)
	assert.Equal(t, "openai", resp.Usage.Provider)
}

func TestChatCompletion_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	})
	_, err := c.ChatCompletion(context.Background(), "m", "p", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "Rate limit reached", errorMessage([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`)))
	assert.Equal(t, "bad gateway", errorMessage([]byte("bad gateway\n")))
}

func TestEmbeddings_OrderedByIndex(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	})
	vecs, err := c.Embeddings(context.Background(), "text-embedding-3-small", []string{"revenue", "sales"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
}

func TestEmbeddings_CountMismatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	})
	_, err := c.Embeddings(context.Background(), "m", []string{"a", "b"})
	assert.Error(t, err)
}

func TestNarrativeAdapter(t *testing.T) {
	mock := &MockLLMClient{Response: "  # Executive Summary\nRevenue fell 40%.  "}
	text, err := NewNarrativeAdapter(mock, "gpt-4o-mini", 800).GenerateNarrative(context.Background(), "# KPI report")
	require.NoError(t, err)
	assert.Equal(t, "# Executive Summary\nRevenue fell 40%.", text)
	assert.Equal(t, 1, mock.Calls)
}

func TestNarrativeAdapter_Failures(t *testing.T) {
	a := NewNarrativeAdapter(&MockLLMClient{Error: io.ErrUnexpectedEOF}, "m", 10)
	_, err := a.GenerateNarrative(context.Background(), "# KPI report")
	assert.Equal(t, errors.CodeExternalService, errors.GetCode(err))

	_, err = a.GenerateNarrative(context.Background(), "  ")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	_, err = NewNarrativeAdapter(&MockLLMClient{}, "m", 10).GenerateNarrative(context.Background(), "# r")
	assert.Equal(t, errors.CodeExternalService, errors.GetCode(err))
}
