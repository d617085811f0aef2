package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Metadata keys stored alongside every index entry.
const (
	FieldID          = "test_id"
	FieldCPTCode     = "cpt_code"
	FieldName        = "name"
	FieldSampleType  = "sample_type"
	FieldContainer   = "container"
	FieldTAT         = "tat"
	FieldPrice       = "price"
	FieldDescription = "description"
	FieldTags        = "tags"
)

// EmbeddingText is the text an index entry's vector is computed from.
func (r CatalogRecord) EmbeddingText() string {
	return r.Name + " " + r.Description
}

// Metadata returns a copy of the record's descriptive fields.
func (r CatalogRecord) Metadata() map[string]any {
	tags := make([]string, len(r.Tags))
	copy(tags, r.Tags)
	return map[string]any{
		FieldID:          r.ID,
		FieldCPTCode:     r.CPTCode,
		FieldName:        r.Name,
		FieldSampleType:  r.SampleType,
		FieldContainer:   r.Container,
		FieldTAT:         r.TAT,
		FieldPrice:       r.Price,
		FieldDescription: r.Description,
		FieldTags:        tags,
	}
}

// RecordFromMetadata rebuilds a record from index metadata. Values decoded
// from JSON (float64 numbers, []any lists) are accepted.
func RecordFromMetadata(id string, md map[string]any) CatalogRecord {
	r := CatalogRecord{
		ID:          id,
		CPTCode:     stringField(md[FieldCPTCode]),
		Name:        stringField(md[FieldName]),
		SampleType:  stringField(md[FieldSampleType]),
		Container:   stringField(md[FieldContainer]),
		TAT:         stringField(md[FieldTAT]),
		Price:       floatField(md[FieldPrice]),
		Description: stringField(md[FieldDescription]),
		Tags:        stringsField(md[FieldTags]),
	}
	if r.ID == "" {
		r.ID = stringField(md[FieldID])
	}
	return r
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func floatField(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func stringsField(v any) []string {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			out = append(out, stringField(x))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return SplitTags(t)
	default:
		return nil
	}
}

// SplitTags splits a comma-separated alternate-name list, trimming blanks.
func SplitTags(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
