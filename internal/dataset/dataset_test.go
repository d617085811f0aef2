package dataset

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Test ID,CPT Code,Test Name,Sample Type,Container,TAT,Price (AED),Description,Tags
1,85025,Complete Blood Count,Whole blood,EDTA,1 day,120,"### Overview
1. **Counts** red and white cells.","CBC, Hemogram"
2,80061,Lipid Panel,Serum,SST,1 day,,Measures cholesterol.,
,00000,No ID,,,,,,
3,82306,Vitamin D,Serum,SST,2 days,nan,*Vitamin* level.,
1,85025,Complete Blood Count,Whole blood,EDTA,1 day,150,Updated description.,CBC
`

func TestReadCSV(t *testing.T) {
	recs, err := ReadCSV(context.Background(), strings.NewReader(sampleCSV), nil)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	cbc := recs[0]
	assert.Equal(t, "1", cbc.ID)
	assert.Equal(t, "Complete Blood Count", cbc.Name)
	assert.Equal(t, 150.0, cbc.Price)
	assert.Equal(t, "Updated description.", cbc.Description)
	assert.Equal(t, []string{"CBC"}, cbc.Tags)

	assert.Equal(t, "Lipid Panel", recs[1].Name)
	assert.Zero(t, recs[1].Price)
	assert.Empty(t, recs[1].Tags)

	assert.Equal(t, "Vitamin level.", recs[2].Description)
	assert.Zero(t, recs[2].Price)
}

func TestReadCSVHeaderCaseInsensitive(t *testing.T) {
	data := "test id,test name\nA1,Ferritin\n"
	recs, err := ReadCSV(context.Background(), strings.NewReader(data), nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Ferritin", recs[0].Name)
}

func TestReadCSVKeepsNamesVerbatim(t *testing.T) {
	data := "Test ID,Test Name,Price (AED)\nA1, Ferritin , 80 \nA2,   ,10\n"
	recs, err := ReadCSV(context.Background(), strings.NewReader(data), nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, " Ferritin ", recs[0].Name)
	assert.Equal(t, 80.0, recs[0].Price)
}

func TestReadCSVMissingColumn(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("Test ID,Price (AED)\n1,2\n"), nil)
	assert.ErrorContains(t, err, "Test Name")
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader(""), nil)
	assert.Error(t, err)
}

func TestCSVSourceFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labs.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))
	recs, err := NewCSVSource(path, nil).Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestCleanDescription(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Measures glucose.", "Measures glucose."},
		{"header and list", "### Purpose\n1. Detects anemia\n2. Screens infection", "Purpose Detects anemia Screens infection"},
		{"bullets", "• First\n• Second", "First Second"},
		{"emphasis", "**Bold** and *italic* and `code`", "Bold and italic and code"},
		{"whitespace", "  a \n\n b\t", "a b"},
		{"nfkc", "ﬁbrinogen", "fibrinogen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanDescription(tt.in))
		})
	}
}

func TestSQLiteSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE lab_tests (
		id TEXT, cpt_code TEXT, name TEXT, sample_type TEXT, container TEXT,
		tat TEXT, price REAL, description TEXT, tags TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO lab_tests VALUES
		('1', '85025', 'Complete Blood Count', 'Whole blood', 'EDTA', '1 day', 120, '**CBC** test', 'CBC,Hemogram'),
		('2', NULL, 'Lipid Panel', NULL, NULL, NULL, NULL, NULL, NULL),
		('', NULL, 'Orphan', NULL, NULL, NULL, NULL, NULL, NULL),
		('2', NULL, 'Lipid Panel', NULL, NULL, NULL, 95, 'Fasting sample.', NULL)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	src, err := NewSQLiteSource(path, "")
	require.NoError(t, err)
	recs, err := src.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "CBC test", recs[0].Description)
	assert.Equal(t, []string{"CBC", "Hemogram"}, recs[0].Tags)
	assert.Equal(t, 120.0, recs[0].Price)
	assert.Equal(t, "Lipid Panel", recs[1].Name)
	assert.Equal(t, 95.0, recs[1].Price)
	assert.Equal(t, "Fasting sample.", recs[1].Description)
}

func TestSQLiteSourceRejectsBadTable(t *testing.T) {
	_, err := NewSQLiteSource("x.db", "labs; DROP")
	assert.Error(t, err)
}
