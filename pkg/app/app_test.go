package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/sales-research/pkg/config"
	"github.com/mikeboe/sales-research/pkg/research"
)

func TestNewExtractor(t *testing.T) {
	ctx := context.Background()

	ex, err := NewExtractor(ctx, &config.Config{Extractor: config.ExtractorPattern}, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, research.PatternExtractor{}, ex)

	_, err = NewExtractor(ctx, &config.Config{Extractor: config.ExtractorLLM}, slog.Default())
	assert.ErrorContains(t, err, "GOOGLE_API_KEY")

	_, err = NewExtractor(ctx, &config.Config{Extractor: config.ExtractorBoth}, slog.Default())
	assert.Error(t, err)
}
