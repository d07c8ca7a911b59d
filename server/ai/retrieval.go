package ai

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/papertalk/papertalk/store"
)

const (
	defaultTopK        = 4
	maxPassageRunes    = 1200
	minQueryTermLength = 2
)

// Passage is a snippet of an uploaded document offered as answer context.
type Passage struct {
	DocumentUID string
	Filename    string
	Text        string
	Score       float64
}

// DocumentStore is the read surface retrieval needs. *store.Store
// satisfies it.
type DocumentStore interface {
	ListDocuments(ctx context.Context, find *store.FindDocument) ([]*store.Document, error)
}

// Retriever ranks stored document passages against a question by keyword
// overlap. It is a deliberately simple stand-in for a vector retrieval
// backend: good enough to ground answers in the user's own documents.
type Retriever struct {
	documents DocumentStore
	topK      int
}

// NewRetriever creates a retriever over the given document store.
func NewRetriever(documents DocumentStore) *Retriever {
	return &Retriever{
		documents: documents,
		topK:      defaultTopK,
	}
}

// Retrieve returns the highest-scoring passages from the owner's documents
// for the question, best first. An empty result means no document matched.
func (r *Retriever) Retrieve(ctx context.Context, creatorID int32, question string) ([]Passage, error) {
	terms := queryTerms(question)
	if len(terms) == 0 {
		return nil, nil
	}

	docs, err := r.documents.ListDocuments(ctx, &store.FindDocument{CreatorID: &creatorID})
	if err != nil {
		return nil, err
	}

	var passages []Passage
	for _, doc := range docs {
		for _, text := range splitPassages(doc.ExtractedText) {
			score := scorePassage(text, terms)
			if score <= 0 {
				continue
			}
			passages = append(passages, Passage{
				DocumentUID: doc.UID,
				Filename:    doc.Filename,
				Text:        text,
				Score:       score,
			})
		}
	}

	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Score > passages[j].Score
	})
	if len(passages) > r.topK {
		passages = passages[:r.topK]
	}
	return passages, nil
}

// queryTerms lowercases the question and keeps distinct alphanumeric terms.
func queryTerms(question string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len([]rune(field)) < minQueryTermLength {
			continue
		}
		terms[field] = struct{}{}
	}
	return terms
}

// splitPassages breaks extracted text into paragraph-sized passages,
// capping each at maxPassageRunes.
func splitPassages(text string) []string {
	var passages []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		runes := []rune(block)
		for len(runes) > maxPassageRunes {
			passages = append(passages, string(runes[:maxPassageRunes]))
			runes = runes[maxPassageRunes:]
		}
		if len(runes) > 0 {
			passages = append(passages, string(runes))
		}
	}
	return passages
}

// scorePassage counts query-term occurrences, weighting distinct term
// coverage above repetition.
func scorePassage(text string, terms map[string]struct{}) float64 {
	lower := strings.ToLower(text)
	var score float64
	for term := range terms {
		count := strings.Count(lower, term)
		if count == 0 {
			continue
		}
		// First hit of a term is worth more than repeats.
		score += 1 + float64(count-1)*0.1
	}
	return score
}
