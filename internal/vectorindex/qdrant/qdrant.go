package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"labrec/internal/domain"
	"labrec/internal/embedding"
)

// idField holds the catalog id in the point payload, since Qdrant point ids
// must be unsigned integers or UUIDs.
const idField = domain.FieldID

var errNotFound = errors.New("not found")

// Index is a minimal REST client to a Qdrant collection using cosine distance.
type Index struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

func NewIndex(cfg Config) *Index {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Index{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
	}
}

// EnsureCollection creates the collection when it does not exist yet.
func (s *Index) EnsureCollection(ctx context.Context) error {
	if s.dimension <= 0 {
		return errors.New("invalid dimension")
	}
	err := s.doJSON(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errNotFound) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	return s.doJSON(ctx, http.MethodPut, s.collectionURL(""), body, nil)
}

func (s *Index) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		if len(e.Vector) != s.dimension {
			return fmt.Errorf("entry %s: %w: got %d, want %d", e.ID, domain.ErrDimensionMismatch, len(e.Vector), s.dimension)
		}
		payload := make(map[string]any, len(e.Metadata)+1)
		for k, v := range e.Metadata {
			payload[k] = v
		}
		payload[idField] = e.ID
		points[i] = map[string]any{
			"id":      PointID(e.ID),
			"vector":  e.Vector,
			"payload": payload,
		}
	}
	body := map[string]any{"points": points}
	return s.doJSON(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Query searches by vector. A zero vector cannot be scored under cosine
// distance, so filter-only queries go through the scroll API instead.
func (s *Index) Query(ctx context.Context, vector []float64, topK int, filter map[string]any) ([]domain.Match, error) {
	if topK <= 0 {
		topK = 5
	}
	if embedding.IsZero(vector) {
		points, _, err := s.scroll(ctx, topK, filter, nil, true)
		if err != nil {
			return nil, err
		}
		return toMatches(points), nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	return toMatches(resp.Result), nil
}

func (s *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]any, len(ids))
	for i, id := range ids {
		points[i] = PointID(id)
	}
	body := map[string]any{"points": points}
	return s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
}

func (s *Index) DescribeStats(ctx context.Context) (domain.IndexStats, error) {
	var resp struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodGet, s.collectionURL(""), nil, &resp); err != nil {
		return domain.IndexStats{}, err
	}
	return domain.IndexStats{
		TotalCount: resp.Result.PointsCount,
		Dimension:  resp.Result.Config.Params.Vectors.Size,
	}, nil
}

// ListIDs pages through the collection with the scroll API.
func (s *Index) ListIDs(ctx context.Context, limit int) ([]string, error) {
	const page = 1000
	var ids []string
	var offset any
	for {
		n := page
		if limit > 0 && limit-len(ids) < n {
			n = limit - len(ids)
		}
		points, next, err := s.scroll(ctx, n, nil, offset, false)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			ids = append(ids, catalogID(p))
		}
		if next == nil || len(points) == 0 || (limit > 0 && len(ids) >= limit) {
			return ids, nil
		}
		offset = next
	}
}

func (s *Index) scroll(ctx context.Context, limit int, filter map[string]any, offset any, fullPayload bool) ([]scoredPoint, any, error) {
	req := map[string]any{
		"limit":       limit,
		"with_vector": false,
	}
	if fullPayload {
		req["with_payload"] = true
	} else {
		req["with_payload"] = []string{idField}
	}
	if f := buildFilter(filter); f != nil {
		req["filter"] = f
	}
	if offset != nil {
		req["offset"] = offset
	}
	var resp struct {
		Result struct {
			Points         []scoredPoint `json:"points"`
			NextPageOffset any           `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/scroll"), req, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Result.Points, resp.Result.NextPageOffset, nil
}

// PointID maps a catalog id onto a valid Qdrant point id. Canonical decimal
// ids are used as is; anything else, including "007" or "+7", becomes a
// name-based UUID so distinct ids never share a point.
func PointID(id string) any {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil && strconv.FormatUint(n, 10) == id {
		return n
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func catalogID(p scoredPoint) string {
	if v, ok := p.Payload[idField].(string); ok && v != "" {
		return v
	}
	switch id := p.ID.(type) {
	case float64:
		return strconv.FormatUint(uint64(id), 10)
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

func toMatches(points []scoredPoint) []domain.Match {
	out := make([]domain.Match, 0, len(points))
	for _, p := range points {
		out = append(out, domain.Match{ID: catalogID(p), Score: p.Score, Metadata: p.Payload})
	}
	return out
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
	must := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": filter[k]},
		})
	}
	return map[string]any{"must": must}
}

func (s *Index) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Index) doJSON(ctx context.Context, method, url string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("qdrant %s %s: %w", method, url, errNotFound)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
