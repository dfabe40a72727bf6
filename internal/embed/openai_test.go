package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbedder_ForwardsDimensionsAndKeepsOrder(t *testing.T) {
	var got struct {
		Input      []string `json:"input"`
		Model      string   `json:"model"`
		Dimensions int      `json:"dimensions"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		// Answer out of order; the client must place by index.
		data := []map[string]any{
			{"object": "embedding", "index": 1, "embedding": []float32{0, 2}},
			{"object": "embedding", "index": 0, "embedding": []float32{2, 0}},
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list", "data": data, "model": got.Model,
			"usage": map[string]int{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	t.Cleanup(srv.Close)

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Dimensions: 2})
	require.NoError(t, err)

	out, err := e.EmbedBatch(context.Background(), []string{"first", "", "second"}, ModeDocument)

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, got.Input)
	assert.Equal(t, 2, got.Dimensions)
	assert.Equal(t, DefaultOpenAIModel, got.Model)
	assert.Equal(t, []float32{1, 0}, out[0])
	assert.Nil(t, out[1])
	assert.Equal(t, []float32{0, 1}, out[2])
	assert.Equal(t, 2, e.Dimensions())
}

func TestOpenAIEmbedder_RequiresCredentials(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{})

	require.Error(t, err)
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-bad", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x", ModeQuery)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai embeddings")
}
