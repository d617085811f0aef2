package dataset

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"labrec/internal/domain"
)

var tableRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SQLiteSource reads catalog records from a SQLite table with the columns
// id, cpt_code, name, sample_type, container, tat, price, description, tags.
type SQLiteSource struct {
	path  string
	table string
}

func NewSQLiteSource(path, table string) (*SQLiteSource, error) {
	if table == "" {
		table = "lab_tests"
	}
	if !tableRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SQLiteSource{path: path, table: table}, nil
}

type sqliteRow struct {
	ID          string  `db:"id"`
	CPTCode     string  `db:"cpt_code"`
	Name        string  `db:"name"`
	SampleType  string  `db:"sample_type"`
	Container   string  `db:"container"`
	TAT         string  `db:"tat"`
	Price       float64 `db:"price"`
	Description string  `db:"description"`
	Tags        string  `db:"tags"`
}

func (s *SQLiteSource) Records(ctx context.Context) ([]domain.CatalogRecord, error) {
	db, err := sqlx.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	query := fmt.Sprintf(`SELECT COALESCE(id, '') AS id, COALESCE(cpt_code, '') AS cpt_code,
		COALESCE(name, '') AS name, COALESCE(sample_type, '') AS sample_type,
		COALESCE(container, '') AS container, COALESCE(tat, '') AS tat,
		COALESCE(price, 0) AS price, COALESCE(description, '') AS description,
		COALESCE(tags, '') AS tags
		FROM %s ORDER BY rowid`, s.table)
	var rows []sqliteRow
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}

	records := make([]domain.CatalogRecord, 0, len(rows))
	pos := make(map[string]int, len(rows))
	for _, r := range rows {
		if r.ID == "" || strings.TrimSpace(r.Name) == "" {
			continue
		}
		rec := domain.CatalogRecord{
			ID:          r.ID,
			CPTCode:     r.CPTCode,
			Name:        r.Name,
			SampleType:  r.SampleType,
			Container:   r.Container,
			TAT:         r.TAT,
			Price:       r.Price,
			Description: CleanDescription(r.Description),
			Tags:        domain.SplitTags(r.Tags),
		}
		// later rows win, as in the CSV source
		if i, dup := pos[rec.ID]; dup {
			records[i] = rec
			continue
		}
		pos[rec.ID] = len(records)
		records = append(records, rec)
	}
	return records, nil
}
