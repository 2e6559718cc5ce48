// Package search implements document retrieval over Elasticsearch: hybrid
// vector+keyword queries for the pipeline and index management for the
// indexing job.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/kuberag/kuberag/internal/domain"
	"github.com/kuberag/kuberag/internal/ports"
)

// sourceFields limits retrieved documents to the fields prompt construction
// needs. Vectors stay out of the response payload.
var sourceFields = []string{"text", "title", "source_file", "id"}

// Client is an Elasticsearch-backed ports.SearchClient.
type Client struct {
	es *elasticsearch.Client
}

var _ ports.SearchClient = (*Client)(nil)

// NewClient connects to the Elasticsearch node at addr.
func NewClient(addr string) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Client{es: es}, nil
}

// NewClientWithTransport builds a client over a custom transport, for tests.
func NewClientWithTransport(addr string, transport http.RoundTripper) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{addr},
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Client{es: es}, nil
}

// Ping reports whether the cluster is reachable.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping returned %s", res.Status())
	}
	return nil
}

// IndexExists reports whether the named index exists.
func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := c.es.Indices.Exists([]string{index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("checking index %q: %w", index, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("checking index %q: unexpected status %s", index, res.Status())
	}
}

// searchEnvelope is the slice of the Elasticsearch response the client
// decodes.
type searchEnvelope struct {
	Hits struct {
		Hits []struct {
			Source domain.Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// HybridSearch runs one fused k-NN plus keyword query. Both legs execute in
// a single request and Elasticsearch blends their boosted scores into one
// ranking; this is not two searches merged client-side.
func (c *Client) HybridSearch(ctx context.Context, q ports.HybridQuery) ([]domain.Document, error) {
	body := map[string]any{
		"knn": map[string]any{
			"field":          q.VectorField,
			"query_vector":   q.Vector,
			"k":              q.K,
			"num_candidates": q.NumCandidates,
			"boost":          q.VectorBoost,
		},
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"multi_match": map[string]any{
						"query":  q.Query,
						"fields": []string{"title", "text"},
						"type":   "best_fields",
						"boost":  q.KeywordBoost,
					},
				},
			},
		},
		"size":    q.K,
		"_source": sourceFields,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(q.Index),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("executing search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %q", domain.ErrIndexNotFound, q.Index)
		}
		raw, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search returned %s: %s", res.Status(), raw)
	}

	var envelope searchEnvelope
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	docs := make([]domain.Document, 0, len(envelope.Hits.Hits))
	for _, hit := range envelope.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}
