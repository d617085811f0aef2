package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"labrec/internal/domain"
)

var candidateSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["tests"],
	"properties": {
		"tests": {"type": "array", "items": {"type": "string"}}
	}
}`)

const systemPrompt = `You are a helpful assistant with expertise in medical terminology and laboratory diagnostics.
Given a patient's health goals and current diseases, list the laboratory tests they should take.
Use the standard full test name for each test.
Respond with a JSON object of the form {"tests": ["<test name>", ...]} and nothing else.`

// Extractor turns user attributes into candidate test names.
type Extractor struct {
	client *Client
	logger *slog.Logger
}

func NewExtractor(client *Client, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Extractor{client: client, logger: logger}
}

// Prompt renders the user message for attrs.
func Prompt(attrs domain.UserAttributes) string {
	return fmt.Sprintf("Health Goals: %s. Current Diseases: %s",
		strings.Join(attrs.HealthGoals, ", "), strings.Join(attrs.CurrentDiseases, ", "))
}

// ExtractCandidates returns the candidate names in the order the model
// produced them. Blank names are dropped.
func (e *Extractor) ExtractCandidates(ctx context.Context, attrs domain.UserAttributes) ([]string, error) {
	content, err := e.client.Complete(ctx, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: Prompt(attrs)},
	}, true)
	if err != nil {
		return nil, fmt.Errorf("extract candidates: %w", err)
	}
	names, err := ParseCandidates(content)
	if err != nil {
		e.logger.Warn("unparsable candidate response", "user", attrs.UserID, "content", content)
		return nil, err
	}
	e.logger.Debug("extracted candidates", "user", attrs.UserID, "count", len(names))
	return names, nil
}

// ParseCandidates validates and decodes a {"tests": [...]} object,
// tolerating a markdown code fence around it.
func ParseCandidates(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	result, err := gojsonschema.Validate(candidateSchema, gojsonschema.NewStringLoader(content))
	if err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("candidate response does not match schema: %s", strings.Join(msgs, "; "))
	}
	var out struct {
		Tests []string `json:"tests"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	names := make([]string, 0, len(out.Tests))
	for _, t := range out.Tests {
		if t = strings.TrimSpace(t); t != "" {
			names = append(names, t)
		}
	}
	return names, nil
}
