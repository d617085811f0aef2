package domain

import "context"

// CatalogRecord is one lab test in the catalog. Records are produced by the
// dataset source and never mutated afterwards.
type CatalogRecord struct {
	ID          string
	CPTCode     string
	Name        string
	SampleType  string
	Container   string
	TAT         string
	Price       float64
	Description string
	Tags        []string
}

// IndexEntry is what gets stored in the vector index for one record.
type IndexEntry struct {
	ID       string
	Vector   []float64
	Metadata map[string]any
}

// Match is a single ranked hit returned by a VectorIndex query.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// IndexStats summarises the contents of a VectorIndex.
type IndexStats struct {
	TotalCount int
	Dimension  int
}

// MatchKind tells how a candidate name was resolved.
type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchSimilarity MatchKind = "similarity"
)

// MatchResult is the outcome of resolving one candidate name. Record is nil
// when nothing matched.
type MatchResult struct {
	Candidate string
	Record    *CatalogRecord
	Kind      MatchKind
	Score     float64
}

// Found reports whether the candidate resolved to a record.
func (m MatchResult) Found() bool { return m.Record != nil }

// UserAttributes are the free-text health attributes a recommendation is
// computed from.
type UserAttributes struct {
	UserID          string
	HealthGoals     []string
	CurrentDiseases []string
}

// Embedder converts free text into a fixed-dimension numeric vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(text string) []float64
}

// VectorIndex stores (id, vector, metadata) entries and answers nearest
// neighbour and metadata filter queries. A nil or empty filter matches all
// entries; filter values are compared for exact equality.
type VectorIndex interface {
	Query(ctx context.Context, vector []float64, topK int, filter map[string]any) ([]Match, error)
	Upsert(ctx context.Context, entries []IndexEntry) error
	Delete(ctx context.Context, ids []string) error
	DescribeStats(ctx context.Context) (IndexStats, error)
	// ListIDs returns up to limit entry ids; limit <= 0 means all of them.
	ListIDs(ctx context.Context, limit int) ([]string, error)
}

// DatasetSource yields the catalog in bulk.
type DatasetSource interface {
	Records(ctx context.Context) ([]CatalogRecord, error)
}

// CandidateExtractor turns user attributes into candidate test names.
type CandidateExtractor interface {
	ExtractCandidates(ctx context.Context, attrs UserAttributes) ([]string, error)
}
