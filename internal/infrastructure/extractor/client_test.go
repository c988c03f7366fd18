package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-answer-api/internal/config"
)

func TestExtractDeduplicatesAndKeepsOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		var req extractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Text)

		_ = json.NewEncoder(w).Encode(extractResponse{
			Entities: []extractedEntity{
				{Name: "北京", Type: "LOC"},
				{Name: "故宫", Type: "LOC"},
				{Name: "北京", Type: "LOC"},
				{Name: "  ", Type: "LOC"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(&config.ExtractorConfig{Endpoint: srv.URL, Timeout: time.Second})
	names, err := c.Extract(context.Background(), "北京的故宫在哪")
	require.NoError(t, err)
	assert.Equal(t, []string{"北京", "故宫"}, names)
}

func TestExtractUpstreamErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(&config.ExtractorConfig{Endpoint: srv.URL, Timeout: time.Second})
	_, err := c.Extract(context.Background(), "文本")
	assert.Error(t, err)
}

func TestExtractEmptyEndpointRejected(t *testing.T) {
	c := NewClient(&config.ExtractorConfig{})
	_, err := c.Extract(context.Background(), "文本")
	assert.Error(t, err)
}
