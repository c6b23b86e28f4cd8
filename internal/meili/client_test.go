package meili

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/indexes/products/search", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "laptop", req.Query)
		assert.Equal(t, "price < 1000", req.Filter)

		json.NewEncoder(w).Encode(SearchResponse{
			Hits:               []map[string]interface{}{{"name": "UltraBook"}},
			EstimatedTotalHits: 1,
		})
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL, APIKey: "secret"})
	resp, err := c.Search(context.Background(), "products", SearchRequest{Query: "laptop", Filter: "price < 1000"})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "UltraBook", resp.Hits[0]["name"])
	assert.Equal(t, 1, resp.EstimatedTotalHits)
}

func TestClient_Search_EmptyHitsIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SearchResponse{Hits: []map[string]interface{}{}})
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL})
	resp, err := c.Search(context.Background(), "users", SearchRequest{Query: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
}

func TestClient_APIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"message": "Attribute `nope` is not filterable.",
			"code":    "invalid_search_filter",
			"type":    "invalid_request",
		})
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL})
	_, err := c.Search(context.Background(), "products", SearchRequest{Query: "x", Filter: "nope = 1"})
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, "invalid_search_filter", apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestClient_UpdateSettingsAndWaitForTask(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch && r.URL.Path == "/indexes/products/settings":
			var s Settings
			require.NoError(t, json.NewDecoder(r.Body).Decode(&s))
			assert.Contains(t, s.FilterableAttributes, "category")
			json.NewEncoder(w).Encode(TaskInfo{TaskUID: 42, Status: "enqueued"})
		case r.Method == http.MethodGet && r.URL.Path == "/tasks/42":
			polls++
			status := "processing"
			if polls >= 2 {
				status = "succeeded"
			}
			json.NewEncoder(w).Encode(Task{UID: 42, Status: status})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL})
	uid, err := c.UpdateSettings(context.Background(), "products", Settings{FilterableAttributes: []string{"category", "brand"}})
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)

	require.NoError(t, c.WaitForTask(context.Background(), uid))
	assert.GreaterOrEqual(t, polls, 2)
}

func TestClient_WaitForTask_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"uid":    7,
			"status": "failed",
			"error":  map[string]string{"message": "index not found", "code": "index_not_found"},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL})
	err := c.WaitForTask(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index_not_found")
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": "available"})
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL})
	assert.NoError(t, c.Health(context.Background()))
}
