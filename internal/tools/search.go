package tools

import (
	"context"
	"errors"
	"net/http"

	"github.com/askdb-ai/askdb"
	"github.com/askdb-ai/askdb/internal/logger"
	"github.com/askdb-ai/askdb/internal/meili"
)

const defaultSearchLimit = 10

// SearchTool runs full-text queries against the Meilisearch indexes.
type SearchTool struct {
	client *meili.Client
	log    *logger.Logger
}

// NewSearchTool creates the search adapter.
func NewSearchTool(client *meili.Client, log *logger.Logger) *SearchTool {
	return &SearchTool{client: client, log: log}
}

// Spec describes the adapter for the registry and the decider.
func (t *SearchTool) Spec() askdb.ToolSpec {
	return askdb.ToolSpec{
		Name: askdb.ToolNameSearch,
		Description: "Full-text search over the products and users indexes. " +
			"Supports typo-tolerant matching and filter expressions such as " +
			"\"category = Electronics AND price < 500\".",
		Arguments: []askdb.ArgumentSpec{
			{
				Name:        "index_name",
				Type:        askdb.ArgTypeString,
				Description: "Which index to search.",
				Required:    true,
				Enum:        []string{"products", "users"},
			},
			{
				Name:        "query",
				Type:        askdb.ArgTypeString,
				Description: "The search text. May be empty to match everything a filter selects.",
				Required:    true,
			},
			{
				Name:        "filters",
				Type:        askdb.ArgTypeString,
				Description: "Optional Meilisearch filter expression.",
			},
			{
				Name:        "limit",
				Type:        askdb.ArgTypeInteger,
				Description: "Maximum number of hits to return (default 10).",
			},
			{
				Name:        "offset",
				Type:        askdb.ArgTypeInteger,
				Description: "Number of hits to skip.",
			},
		},
	}
}

// Invoke runs the search. Zero hits is a successful, empty result; only an
// unreachable or misbehaving backend is an error.
func (t *SearchTool) Invoke(ctx context.Context, args map[string]interface{}) (askdb.ResultPayload, error) {
	index, _ := args["index_name"].(string)
	query, _ := args["query"].(string)

	req := meili.SearchRequest{Query: query, Limit: defaultSearchLimit}
	if filters, ok := args["filters"].(string); ok {
		req.Filter = filters
	}
	if limit, ok := asInt(args["limit"]); ok && limit > 0 {
		req.Limit = limit
	}
	if offset, ok := asInt(args["offset"]); ok && offset > 0 {
		req.Offset = offset
	}

	resp, err := t.client.Search(ctx, index, req)
	if err != nil {
		var apiErr *meili.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			// A bad filter or missing index is the decider's mistake to
			// correct, not an outage.
			return askdb.ResultPayload{}, askdb.NewToolExecutionError(askdb.ToolNameSearch, err)
		}
		return askdb.ResultPayload{}, askdb.NewSearchUnavailableError("search backend unreachable", err)
	}

	hits := make([]askdb.Document, len(resp.Hits))
	for i, hit := range resp.Hits {
		hits[i] = askdb.Document(hit)
	}

	if t.log != nil {
		t.log.Debug("", "search executed", map[string]interface{}{
			"index": index,
			"hits":  len(hits),
		})
	}

	return askdb.ResultPayload{Documents: &askdb.DocumentList{
		Index:          index,
		Hits:           hits,
		EstimatedTotal: resp.EstimatedTotalHits,
	}}, nil
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
