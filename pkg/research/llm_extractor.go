package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/sales-research/pkg/splitter"
)

// LLMExtractor asks a language model to fill the FieldSet from search hits.
type LLMExtractor struct {
	LLM        llms.Model
	Splitter   *splitter.TextSplitter
	Logger     *slog.Logger
	MaxRetries int
	Backoff    time.Duration
}

func NewLLMExtractor(llm llms.Model, chunkSize, chunkOverlap int) *LLMExtractor {
	return &LLMExtractor{
		LLM:        llm,
		Splitter:   splitter.NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap),
		Logger:     slog.Default(),
		MaxRetries: 3,
		Backoff:    time.Second,
	}
}

func (x *LLMExtractor) Extract(ctx context.Context, hits []SearchHit, target Target) (FieldSet, error) {
	if len(hits) == 0 {
		return FieldSet{}, nil
	}

	var sb strings.Builder
	for _, h := range hits {
		sb.WriteString(fmt.Sprintf("Source: %s\nSnippet: %s\n\n", h.URL, strings.TrimSpace(h.Snippet)))
	}

	chunks := []string{sb.String()}
	if x.Splitter != nil {
		split, err := x.Splitter.SplitText(sb.String())
		if err != nil {
			return FieldSet{}, fmt.Errorf("failed to split snippets: %w", err)
		}
		if len(split) > 0 {
			chunks = split
		}
	}

	var fs FieldSet
	for _, chunk := range chunks {
		part, err := x.extractChunk(ctx, chunk, target)
		if err != nil {
			return FieldSet{}, err
		}
		fs = Merge(fs, part)
	}
	return fs, nil
}

func (x *LLMExtractor) extractChunk(ctx context.Context, chunk string, target Target) (FieldSet, error) {
	systemPrompt := `You are a sales research analyst.
Extract facts about the company from the search results.
Only use information present in the results. Leave a field empty when it is not mentioned.`

	input := fmt.Sprintf("Company: %s\nDomain: %s\n\nSearch Results:\n%s", target.Name, target.Domain, chunk)

	var fs FieldSet
	_, err := x.generateWithRetry(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt+"\n\n# Response Format:\n"+fieldSetSchema),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, func(content string) error {
		fs = FieldSet{}
		if err := json.Unmarshal([]byte(content), &fs); err != nil {
			return fmt.Errorf("json parse error: %w", err)
		}
		return nil
	})
	if err != nil {
		return FieldSet{}, err
	}
	return fs.Validated(), nil
}

// generateWithRetry generates content and validates it, retrying with linear
// backoff when the model fails or the validator rejects the output.
func (x *LLMExtractor) generateWithRetry(ctx context.Context, prompts []llms.MessageContent, validator func(string) error) (string, error) {
	maxRetries := x.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			x.logger().Warn("Retrying LLM generation", "attempt", i+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(x.Backoff * time.Duration(i)):
			}
		}

		resp, err := x.LLM.GenerateContent(ctx, prompts, llms.WithJSONMode())
		if err != nil {
			lastErr = fmt.Errorf("llm generation failed: %w", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("llm returned no choices")
			continue
		}

		content := resp.Choices[0].Content
		if err := validator(content); err != nil {
			lastErr = fmt.Errorf("validation failed: %w", err)
			continue
		}
		return content, nil
	}

	return "", fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)
}

func (x *LLMExtractor) logger() *slog.Logger {
	if x.Logger == nil {
		return slog.Default()
	}
	return x.Logger
}

const fieldSetSchema = `Return the JSON object directly without any formatting or additional text:{
  "type": "object",
  "properties": {
    "company_value_prop": {"type": "string", "description": "One sentence describing what the company provides"},
    "product_names": {"type": "array", "items": {"type": "string"}},
    "pricing_model": {"type": "string", "description": "How the company charges for its products"},
    "key_competitors": {"type": "array", "items": {"type": "string"}},
    "company_domain": {"type": "string", "description": "Primary web domain, without scheme"}
  }
}`
