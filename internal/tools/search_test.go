package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-ai/askdb"
	"github.com/askdb-ai/askdb/internal/meili"
)

func TestSearchTool_HitsToDocumentList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/indexes/products/search", r.URL.Path)
		var req meili.SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "laptop", req.Query)
		assert.Equal(t, 5, req.Limit)

		json.NewEncoder(w).Encode(meili.SearchResponse{
			Hits:               []map[string]interface{}{{"name": "UltraBook", "price": 999.0}},
			EstimatedTotalHits: 1,
		})
	}))
	defer srv.Close()

	tool := NewSearchTool(meili.NewClient(meili.Config{Host: srv.URL}), nil)
	payload, err := tool.Invoke(context.Background(), map[string]interface{}{
		"index_name": "products",
		"query":      "laptop",
		"limit":      float64(5),
	})
	require.NoError(t, err)

	require.NotNil(t, payload.Documents)
	assert.Equal(t, "products", payload.Documents.Index)
	require.Len(t, payload.Documents.Hits, 1)
	assert.Equal(t, "UltraBook", payload.Documents.Hits[0]["name"])
	assert.Equal(t, 1, payload.Documents.EstimatedTotal)
}

func TestSearchTool_EmptyHitsIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(meili.SearchResponse{Hits: []map[string]interface{}{}})
	}))
	defer srv.Close()

	tool := NewSearchTool(meili.NewClient(meili.Config{Host: srv.URL}), nil)
	payload, err := tool.Invoke(context.Background(), map[string]interface{}{
		"index_name": "users",
		"query":      "nobody at all",
	})
	require.NoError(t, err)
	require.NotNil(t, payload.Documents)
	assert.Empty(t, payload.Documents.Hits)
}

func TestSearchTool_InvalidFilterIsExecutionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"message": "Attribute `nope` is not filterable.",
			"code":    "invalid_search_filter",
		})
	}))
	defer srv.Close()

	tool := NewSearchTool(meili.NewClient(meili.Config{Host: srv.URL}), nil)
	_, err := tool.Invoke(context.Background(), map[string]interface{}{
		"index_name": "products",
		"query":      "anything",
		"filters":    "nope = 1",
	})
	require.Error(t, err)
	assert.True(t, askdb.HasCode(err, askdb.ErrCodeToolExecution))
	assert.Contains(t, err.Error(), "invalid_search_filter")
}

func TestSearchTool_BackendDownIsSearchUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	tool := NewSearchTool(meili.NewClient(meili.Config{Host: srv.URL}), nil)
	_, err := tool.Invoke(context.Background(), map[string]interface{}{
		"index_name": "products",
		"query":      "laptop",
	})
	require.Error(t, err)
	assert.True(t, askdb.HasCode(err, askdb.ErrCodeSearchUnavailable))
}
