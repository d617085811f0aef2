// Package pinecone talks to a Pinecone index through its data-plane REST API.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"labrec/internal/domain"
	"labrec/internal/embedding"
)

const apiVersion = "2024-07"

// Index is a Pinecone index client. Host is the index-specific data-plane
// URL, e.g. https://my-index-abc123.svc.us-east-1.pinecone.io.
type Index struct {
	host      string
	apiKey    string
	namespace string
	dimension int
	client    *http.Client
}

type Config struct {
	Host      string
	APIKey    string
	Namespace string
	Dimension int
	Timeout   time.Duration
}

func NewIndex(cfg Config) *Index {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Index{
		host:      cfg.Host,
		apiKey:    cfg.APIKey,
		namespace: cfg.Namespace,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: timeout},
	}
}

type vector struct {
	ID       string         `json:"id"`
	Values   []float64      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Index) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	vectors := make([]vector, len(entries))
	for i, e := range entries {
		if len(e.Vector) != s.dimension {
			return fmt.Errorf("entry %s: %w: got %d, want %d", e.ID, domain.ErrDimensionMismatch, len(e.Vector), s.dimension)
		}
		vectors[i] = vector{ID: e.ID, Values: e.Vector, Metadata: e.Metadata}
	}
	body := map[string]any{"vectors": vectors}
	if s.namespace != "" {
		body["namespace"] = s.namespace
	}
	return s.doJSON(ctx, http.MethodPost, "/vectors/upsert", body, nil)
}

// Query asks for the topK nearest vectors. Pinecone rejects all-zero dense
// vectors, so a zero query is replaced by a unit basis vector; with a
// metadata filter the scores of such a query carry no meaning.
func (s *Index) Query(ctx context.Context, vec []float64, topK int, filter map[string]any) ([]domain.Match, error) {
	if topK <= 0 {
		topK = 5
	}
	if embedding.IsZero(vec) && len(vec) > 0 {
		vec = make([]float64, len(vec))
		vec[0] = 1
	}
	body := map[string]any{
		"vector":          vec,
		"topK":            topK,
		"includeMetadata": true,
		"includeValues":   false,
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}
	if s.namespace != "" {
		body["namespace"] = s.namespace
	}
	var resp struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/query", body, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		out = append(out, domain.Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return out, nil
}

func (s *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"ids": ids}
	if s.namespace != "" {
		body["namespace"] = s.namespace
	}
	return s.doJSON(ctx, http.MethodPost, "/vectors/delete", body, nil)
}

func (s *Index) DescribeStats(ctx context.Context) (domain.IndexStats, error) {
	var resp struct {
		Dimension        int `json:"dimension"`
		TotalVectorCount int `json:"totalVectorCount"`
		Namespaces       map[string]struct {
			VectorCount int `json:"vectorCount"`
		} `json:"namespaces"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/describe_index_stats", map[string]any{}, &resp); err != nil {
		return domain.IndexStats{}, err
	}
	count := resp.TotalVectorCount
	if s.namespace != "" {
		count = resp.Namespaces[s.namespace].VectorCount
	}
	return domain.IndexStats{TotalCount: count, Dimension: resp.Dimension}, nil
}

// ListIDs pages through /vectors/list.
func (s *Index) ListIDs(ctx context.Context, limit int) ([]string, error) {
	const page = 100
	var ids []string
	token := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(page))
		if s.namespace != "" {
			q.Set("namespace", s.namespace)
		}
		if token != "" {
			q.Set("paginationToken", token)
		}
		var resp struct {
			Vectors []struct {
				ID string `json:"id"`
			} `json:"vectors"`
			Pagination *struct {
				Next string `json:"next"`
			} `json:"pagination"`
		}
		if err := s.doJSON(ctx, http.MethodGet, "/vectors/list?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}
		for _, v := range resp.Vectors {
			ids = append(ids, v.ID)
			if limit > 0 && len(ids) >= limit {
				return ids, nil
			}
		}
		if resp.Pagination == nil || resp.Pagination.Next == "" || len(resp.Vectors) == 0 {
			return ids, nil
		}
		token = resp.Pagination.Next
	}
}

func buildFilter(filter map[string]any) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = map[string]any{"$eq": filter[k]}
	}
	return out
}

func (s *Index) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.host+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", s.apiKey)
	req.Header.Set("X-Pinecone-API-Version", apiVersion)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pinecone %s %s failed: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
