package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kuberag/kuberag/internal/domain"
)

// indexSettings is the full index definition: single shard, no replicas,
// three 384-dimension cosine dense_vector fields alongside the document
// fields.
func indexSettings() map[string]any {
	denseVector := func() map[string]any {
		return map[string]any{
			"type":       "dense_vector",
			"dims":       domain.VectorDims,
			"index":      true,
			"similarity": "cosine",
		}
	}
	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"text":              map[string]any{"type": "text"},
				"title":             map[string]any{"type": "keyword"},
				"source_file":       map[string]any{"type": "text"},
				"id":                map[string]any{"type": "keyword"},
				"title_vector":      denseVector(),
				"text_vector":       denseVector(),
				"title_text_vector": denseVector(),
			},
		},
	}
}

// CreateIndex creates the named index with the document mappings, deleting
// any existing index of the same name first. Reindexing always starts from a
// clean slate so stale documents cannot linger.
func (c *Client) CreateIndex(ctx context.Context, index string) error {
	exists, err := c.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if exists {
		res, err := c.es.Indices.Delete([]string{index}, c.es.Indices.Delete.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("deleting index %q: %w", index, err)
		}
		res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("deleting index %q: %s", index, res.Status())
		}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(indexSettings()); err != nil {
		return fmt.Errorf("encoding index settings: %w", err)
	}

	res, err := c.es.Indices.Create(index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(&buf),
	)
	if err != nil {
		return fmt.Errorf("creating index %q: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("creating index %q: %s: %s", index, res.Status(), raw)
	}
	return nil
}

// bulkResponse is the slice of the bulk API response needed to detect
// per-item failures.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkIndex writes documents to the index through the bulk API. The whole
// batch is sent in one request; the first failed item fails the call.
func (c *Client) BulkIndex(ctx context.Context, index string, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_index": index}}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return fmt.Errorf("encoding bulk action: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return fmt.Errorf("encoding document %q: %w", doc.ID, err)
		}
	}

	res, err := c.es.Bulk(&buf, c.es.Bulk.WithContext(ctx), c.es.Bulk.WithIndex(index))
	if err != nil {
		return fmt.Errorf("bulk indexing: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %q", domain.ErrIndexNotFound, index)
	}
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk indexing returned %s: %s", res.Status(), raw)
	}

	var bulk bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulk); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}
	if bulk.Errors {
		for _, item := range bulk.Items {
			for action, detail := range item {
				if detail.Error != nil {
					return fmt.Errorf("bulk %s failed (%d): %s: %s",
						action, detail.Status, detail.Error.Type, detail.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk indexing reported errors")
	}
	return nil
}

// CountDocuments returns the number of documents in the index.
func (c *Client) CountDocuments(ctx context.Context, index string) (int, error) {
	res, err := c.es.Count(c.es.Count.WithContext(ctx), c.es.Count.WithIndex(index))
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("count returned %s", res.Status())
	}

	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding count response: %w", err)
	}
	return out.Count, nil
}
