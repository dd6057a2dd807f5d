package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"
)

var (
	productKeywords = []struct{ keyword, product string }{
		{"software", "Software"},
		{"cloud", "Cloud Solutions"},
		{"consulting", "Consulting"},
	}

	pricingKeywords = []struct{ keyword, model string }{
		{"subscription", "Subscription-based pricing model"},
		{"freemium", "Freemium pricing model"},
		{"pay-per-use", "Pay-per-use pricing model"},
	}

	knownCompetitors = []string{"Microsoft", "Google", "Amazon", "IBM", "Oracle", "Salesforce"}
)

// PatternExtractor pulls fields out of snippet text with keyword and sentence
// patterns. It never returns an error.
type PatternExtractor struct{}

func (PatternExtractor) Extract(_ context.Context, hits []SearchHit, target Target) (FieldSet, error) {
	var fs FieldSet
	valueProp := valuePropPattern(target.Name)

	for _, hit := range hits {
		text := strings.TrimSpace(hit.Snippet)
		lower := strings.ToLower(text)

		if fs.ValueProp == "" && valueProp != nil {
			fs.ValueProp = strings.TrimSpace(valueProp.FindString(text))
		}

		for _, p := range productKeywords {
			if strings.Contains(lower, p.keyword) {
				fs.ProductNames = dedupe(fs.ProductNames, []string{p.product})
			}
		}

		if fs.PricingModel == "" {
			for _, p := range pricingKeywords {
				if strings.Contains(lower, p.keyword) {
					fs.PricingModel = p.model
					break
				}
			}
		}

		for _, c := range knownCompetitors {
			if strings.Contains(lower, strings.ToLower(c)) && !strings.EqualFold(c, target.Name) {
				fs.Competitors = dedupe(fs.Competitors, []string{c})
			}
		}

		if fs.Domain == "" {
			fs.Domain = matchDomain(hit.URL, target)
		}
	}

	return fs, nil
}

// valuePropPattern matches the first sentence naming the company followed by
// one of the value verbs.
func valuePropPattern(name string) *regexp.Regexp {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(name) + `[^.]*?\b(?:specializes in|provides|offers)\b[^.]*\.?`)
}

// matchDomain returns the domain the hit was served from when it belongs to the target.
func matchDomain(rawURL string, target Target) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	if hint := strings.TrimPrefix(strings.ToLower(target.Domain), "www."); hint != "" {
		if host == hint || strings.HasSuffix(host, "."+hint) {
			return hint
		}
		return ""
	}

	fields := strings.Fields(strings.ToLower(target.Name))
	if len(fields) == 0 || len(fields[0]) < 3 {
		return ""
	}
	if strings.Contains(host, fields[0]) {
		return host
	}
	return ""
}

// MultiExtractor runs several extractors concurrently and merges their output
// in declaration order. It fails only when every member fails.
type MultiExtractor struct {
	Extractors []Extractor
	Logger     *slog.Logger
}

func (m *MultiExtractor) Extract(ctx context.Context, hits []SearchHit, target Target) (FieldSet, error) {
	parts := make([]FieldSet, len(m.Extractors))
	errs := make([]error, len(m.Extractors))

	var g errgroup.Group
	for i, ex := range m.Extractors {
		g.Go(func() error {
			parts[i], errs[i] = ex.Extract(ctx, hits, target)
			return nil
		})
	}
	_ = g.Wait()

	var (
		merged FieldSet
		failed int
	)
	for i, part := range parts {
		if errs[i] != nil {
			failed++
			if m.Logger != nil {
				m.Logger.Warn("Extractor failed", "index", i, "error", errs[i])
			}
			continue
		}
		merged = Merge(merged, part)
	}

	if len(m.Extractors) > 0 && failed == len(m.Extractors) {
		return FieldSet{}, fmt.Errorf("all %d extractors failed: %w", failed, errors.Join(errs...))
	}
	return merged, nil
}
