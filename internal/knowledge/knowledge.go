// Package knowledge provides the ranked snippet lookup behind the
// search_knowledge tool.
package knowledge

import (
	"context"
	"sort"
	"strings"
)

// Snippet is one ranked lookup result.
type Snippet struct {
	Title string
	Body  string
	Score float64
}

// Searcher answers free-text queries with ranked snippets.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Snippet, error)
}

// Doc is one indexable document.
type Doc struct {
	Title string
	Body  string
}

// Static is an in-memory Searcher scoring documents by token overlap with
// the query. It is the default backing when no external knowledge base is
// wired in.
type Static struct {
	docs []Doc
}

func NewStatic(docs []Doc) *Static {
	return &Static{docs: docs}
}

func (s *Static) Search(_ context.Context, query string, limit int) ([]Snippet, error) {
	terms := tokenize(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	var out []Snippet
	for _, d := range s.docs {
		score := overlap(terms, tokenize(d.Title+" "+d.Body))
		if score > 0 {
			out = append(out, Snippet{Title: d.Title, Body: d.Body, Score: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,!?:;\"'()[]")
		if len(f) > 2 {
			tokens[f] = true
		}
	}
	return tokens
}

func overlap(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if doc[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
