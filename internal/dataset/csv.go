package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"labrec/internal/domain"
)

// Column headers of the lab test dataset.
const (
	ColID          = "Test ID"
	ColCPTCode     = "CPT Code"
	ColName        = "Test Name"
	ColSampleType  = "Sample Type"
	ColContainer   = "Container"
	ColTAT         = "TAT"
	ColPrice       = "Price (AED)"
	ColDescription = "Description"
	ColTags        = "Tags"
)

// CSVSource reads catalog records from a CSV file with a header row.
type CSVSource struct {
	path   string
	logger *slog.Logger
}

func NewCSVSource(path string, logger *slog.Logger) *CSVSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CSVSource{path: path, logger: logger}
}

func (s *CSVSource) Records(ctx context.Context) ([]domain.CatalogRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return ReadCSV(ctx, f, s.logger)
}

// ReadCSV parses records from r. Header names are matched case-insensitively;
// rows without an id or name are skipped and a repeated id replaces the
// earlier row in place.
func ReadCSV(ctx context.Context, r io.Reader, logger *slog.Logger) ([]domain.CatalogRecord, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))] = i
	}
	for _, required := range []string{ColID, ColName} {
		if _, ok := cols[strings.ToLower(required)]; !ok {
			return nil, fmt.Errorf("dataset missing column %q", required)
		}
	}
	raw := func(row []string, col string) string {
		i, ok := cols[strings.ToLower(col)]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}
	get := func(row []string, col string) string { return strings.TrimSpace(raw(row, col)) }

	var records []domain.CatalogRecord
	pos := make(map[string]int)
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		// names are kept byte for byte; exact matching compares them literally
		rec := domain.CatalogRecord{
			ID:          get(row, ColID),
			CPTCode:     get(row, ColCPTCode),
			Name:        raw(row, ColName),
			SampleType:  get(row, ColSampleType),
			Container:   get(row, ColContainer),
			TAT:         get(row, ColTAT),
			Price:       parsePrice(get(row, ColPrice)),
			Description: CleanDescription(get(row, ColDescription)),
			Tags:        domain.SplitTags(get(row, ColTags)),
		}
		if rec.ID == "" || strings.TrimSpace(rec.Name) == "" {
			logger.Warn("skipping dataset row without id or name", "line", line)
			continue
		}
		if i, dup := pos[rec.ID]; dup {
			logger.Warn("duplicate test id, keeping last row", "id", rec.ID, "line", line)
			records[i] = rec
			continue
		}
		pos[rec.ID] = len(records)
		records = append(records, rec)
	}
	return records, nil
}

// parsePrice treats missing or unparsable prices as 0.
func parsePrice(s string) float64 {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || strings.EqualFold(s, "nan") {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
