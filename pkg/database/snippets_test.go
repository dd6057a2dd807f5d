package database

import (
	"context"
	"errors"
	"testing"

	"github.com/mikeboe/sales-research/pkg/research"
)

func TestEncodeSnippet(t *testing.T) {
	tests := []struct {
		name        string
		fields      research.FieldSet
		sources     []string
		wantPayload string
		wantURLs    string
	}{
		{
			name:        "Empty result",
			fields:      research.FieldSet{},
			sources:     nil,
			wantPayload: `{}`,
			wantURLs:    `[]`,
		},
		{
			name:        "Drops empty entries",
			fields:      research.FieldSet{ProductNames: []string{"", "Software"}, Domain: "acme.com"},
			sources:     []string{"https://acme.com"},
			wantPayload: `{"product_names":["Software"],"company_domain":"acme.com"}`,
			wantURLs:    `["https://acme.com"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, urls, err := encodeSnippet(tt.fields, tt.sources)
			if err != nil {
				t.Fatalf("encodeSnippet() error = %v", err)
			}
			if string(payload) != tt.wantPayload {
				t.Errorf("payload = %s, want %s", payload, tt.wantPayload)
			}
			if string(urls) != tt.wantURLs {
				t.Errorf("urls = %s, want %s", urls, tt.wantURLs)
			}
		})
	}
}

func TestEncodeRecord(t *testing.T) {
	hits := make([]research.SearchHit, 7)
	for i := range hits {
		hits[i] = research.SearchHit{Snippet: "s", URL: "u"}
	}

	tests := []struct {
		name      string
		rec       research.IterationRecord
		wantHits  int
		wantFound string
	}{
		{"No hits", research.IterationRecord{}, 0, `[]`},
		{"Caps hits", research.IterationRecord{Hits: hits, Found: []research.Field{research.FieldDomain}}, maxLoggedHits, `["company_domain"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotHits, gotFound, err := encodeRecord(tt.rec)
			if err != nil {
				t.Fatalf("encodeRecord() error = %v", err)
			}
			if n := countObjects(gotHits); n != tt.wantHits {
				t.Errorf("hits = %d, want %d (%s)", n, tt.wantHits, gotHits)
			}
			if string(gotFound) != tt.wantFound {
				t.Errorf("found = %s, want %s", gotFound, tt.wantFound)
			}
		})
	}
}

func countObjects(raw []byte) int {
	n := 0
	for _, b := range raw {
		if b == '{' {
			n++
		}
	}
	return n
}

func TestResolveRejectsInvalidID(t *testing.T) {
	r := NewPeopleResolver(nil)
	_, err := r.Resolve(context.Background(), "not-a-uuid")
	if !errors.Is(err, research.ErrNotFound) {
		t.Errorf("Resolve() error = %v, want ErrNotFound", err)
	}
}
