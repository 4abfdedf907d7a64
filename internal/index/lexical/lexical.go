// Package lexical provides term-overlap retrieval with BM25 scoring.
// An Index is built once from a catalog snapshot and is immutable
// afterwards, so concurrent searches need no locking.
package lexical

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// BM25 parameters (standard values).
const (
	bm25K1 = 1.2  // term frequency saturation
	bm25B  = 0.75 // length normalization
)

// Doc is one indexable document: the product text blob plus the insertion
// sequence used for deterministic tie-breaking.
type Doc struct {
	ID   string
	Seq  uint64
	Text string
}

// Hit is a ranked retrieval result.
type Hit struct {
	ID    string
	Score float64
}

// Index is an immutable BM25 inverted index.
type Index struct {
	inverted  map[string]map[string]int // term -> doc id -> term frequency
	docLens   map[string]int
	seqs      map[string]uint64
	avgDocLen float64
	docCount  int
}

// Build tokenizes and indexes the given documents. Documents with no
// indexable tokens (empty title and description) are skipped; they remain
// reachable through attribute filters.
func Build(docs []Doc) *Index {
	ix := &Index{
		inverted: make(map[string]map[string]int),
		docLens:  make(map[string]int, len(docs)),
		seqs:     make(map[string]uint64, len(docs)),
	}

	var totalLen int64
	for _, d := range docs {
		tokens := Tokenize(d.Text)
		if len(tokens) == 0 {
			continue
		}
		ix.docLens[d.ID] = len(tokens)
		ix.seqs[d.ID] = d.Seq
		ix.docCount++
		totalLen += int64(len(tokens))

		termFreq := make(map[string]int)
		for _, tok := range tokens {
			termFreq[tok]++
		}
		for term, freq := range termFreq {
			if ix.inverted[term] == nil {
				ix.inverted[term] = make(map[string]int)
			}
			ix.inverted[term][d.ID] = freq
		}
	}
	if ix.docCount > 0 {
		ix.avgDocLen = float64(totalLen) / float64(ix.docCount)
	}
	return ix
}

// Count returns the number of lexically indexed documents.
func (ix *Index) Count() int { return ix.docCount }

// Retrieve performs BM25 retrieval, returning at most k hits sorted by
// descending score, ties broken by insertion order. allowed restricts the
// result set before ranking; nil means no restriction. An empty catalog or
// an empty query yields an empty list, never an error.
func (ix *Index) Retrieve(text string, k int, allowed func(id string) bool) []Hit {
	if ix.docCount == 0 || k <= 0 {
		return nil
	}
	queryTerms := Tokenize(text)
	if len(queryTerms) == 0 {
		return nil
	}

	scores := make(map[string]float64)
	for _, term := range queryTerms {
		docs, ok := ix.inverted[term]
		if !ok {
			continue
		}
		idf := ix.idf(term)
		for id, tf := range docs {
			if allowed != nil && !allowed(id) {
				continue
			}
			docLen := float64(ix.docLens[id])
			num := float64(tf) * (bm25K1 + 1)
			den := float64(tf) + bm25K1*(1-bm25B+bm25B*(docLen/ix.avgDocLen))
			scores[id] += idf * (num / den)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{ID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return ix.seqs[hits[i].ID] < ix.seqs[hits[j].ID]
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// idf uses the Lucene/Elasticsearch BM25 variant with +1 smoothing so
// common terms never get a negative weight.
func (ix *Index) idf(term string) float64 {
	df := float64(len(ix.inverted[term]))
	n := float64(ix.docCount)
	idf := math.Log(1 + (n-df+0.5)/(df+0.5))
	if idf < 0 {
		return 0
	}
	return idf
}

// Tokenize lowercases, splits on non-alphanumeric runes, and drops stop
// words and single-character tokens.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})

	var tokens []string
	for _, word := range words {
		if len(word) < 2 {
			continue
		}
		if stopWords[word] {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// Minimal stop word list focused on truly generic words. Domain terms like
// "chair" or "oak" are deliberately not filtered.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "with": true,
}
