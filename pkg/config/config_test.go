package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "SEARXNG_URL", "SEARCH_TIMEOUT", "SEARCH_MAX_RESULTS", "EXTRACTOR", "CHUNK_SIZE", "CHUNK_OVERLAP"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8081" {
		t.Errorf("Port = %q, want 8081", cfg.Port)
	}
	if cfg.SearxngURL != "http://localhost:8888" {
		t.Errorf("SearxngURL = %q", cfg.SearxngURL)
	}
	if cfg.SearchTimeout != 10*time.Second {
		t.Errorf("SearchTimeout = %v", cfg.SearchTimeout)
	}
	if cfg.SearchMaxResults != 8 {
		t.Errorf("SearchMaxResults = %d", cfg.SearchMaxResults)
	}
	if cfg.Extractor != ExtractorPattern || cfg.UsesLLM() {
		t.Errorf("Extractor = %q, UsesLLM = %v", cfg.Extractor, cfg.UsesLLM())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SEARCH_TIMEOUT", "3s")
	t.Setenv("SEARCH_MAX_RESULTS", "4")
	t.Setenv("EXTRACTOR", "both")
	t.Setenv("CHUNK_SIZE", "500")

	cfg := Load()
	if cfg.Port != "9000" || cfg.SearchTimeout != 3*time.Second || cfg.SearchMaxResults != 4 || cfg.ChunkSize != 500 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !cfg.UsesLLM() {
		t.Error("UsesLLM() = false for both")
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SEARCH_TIMEOUT", "soon")
	t.Setenv("SEARCH_MAX_RESULTS", "-1")
	t.Setenv("EXTRACTOR", "magic")

	cfg := Load()
	if cfg.SearchTimeout != 10*time.Second {
		t.Errorf("SearchTimeout = %v", cfg.SearchTimeout)
	}
	if cfg.SearchMaxResults != 8 {
		t.Errorf("SearchMaxResults = %d", cfg.SearchMaxResults)
	}
	if cfg.Extractor != ExtractorPattern {
		t.Errorf("Extractor = %q", cfg.Extractor)
	}
}
