// Package kb implements the optional knowledge-base-first retrieval layer:
// an embedded chromem-go vector store scoped by destination/category, with
// a relevance threshold that short-circuits web search when cleared.
package kb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/tripdesigner/agent/pkg/logger"
)

// TemporalType classifies a stored fact's shelf life, parsed from the
// caller's `dates` argument.
type TemporalType string

const (
	TemporalEvent     TemporalType = "event"
	TemporalSeasonal  TemporalType = "seasonal"
	TemporalEvergreen TemporalType = "evergreen"
)

// ClassifyTemporalType inspects a free-text dates annotation and returns the
// temporal type: "annual" implies an Event, season words imply Seasonal,
// anything else is Evergreen.
func ClassifyTemporalType(dates string) TemporalType {
	lower := strings.ToLower(dates)
	if strings.Contains(lower, "annual") {
		return TemporalEvent
	}
	for _, season := range []string{"spring", "summer", "autumn", "fall", "winter"} {
		if strings.Contains(lower, season) {
			return TemporalSeasonal
		}
	}
	return TemporalEvergreen
}

// Result is one retrieved knowledge entry.
type Result struct {
	ID           string  `json:"id"`
	Content      string  `json:"content"`
	Score        float32 `json:"score"`
	Destination  string  `json:"destination,omitempty"`
	TemporalType string  `json:"temporalType,omitempty"`
	UpdatedAt    string  `json:"updatedAt,omitempty"`
}

// SearchOutcome is the search-handler result contract:
// either a KB hit set (source=knowledge_base) or a signal that the caller's
// LLM layer must perform its own web retrieval (source=web_search_needed).
type SearchOutcome struct {
	Source  string   `json:"source"`
	Results []Result `json:"results,omitempty"`
}

// RelevanceThreshold is the minimum top-result similarity score that lets a
// KB hit short-circuit web search.
const RelevanceThreshold = 0.7

// Store is the KB-first retrieval collaborator. A nil *Store (backend
// "none") behaves as an always-empty KB, so handlers always get
// web_search_needed without special-casing a disabled backend.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	threshold  float32
}

// NewStore opens or creates a persistent chromem-go collection at path.
// embeddingFn is injected so callers can choose a local or API-backed
// embedder; pass nil to use chromem-go's default.
func NewStore(path string, relevanceThreshold float64, embeddingFn chromem.EmbeddingFunc) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("kb: path required")
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("kb: create directory: %w", err)
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("kb: open vector db: %w", err)
	}

	collection, err := db.GetOrCreateCollection("travel_knowledge", nil, embeddingFn)
	if err != nil {
		return nil, fmt.Errorf("kb: create collection: %w", err)
	}

	threshold := float32(relevanceThreshold)
	if threshold <= 0 {
		threshold = RelevanceThreshold
	}

	logger.InfoCF("kb", "knowledge base initialized", map[string]interface{}{
		"path":  path,
		"count": collection.Count(),
	})

	return &Store{db: db, collection: collection, threshold: threshold}, nil
}

// Store indexes a fact with destination and temporal annotations, per
// the `store_travel_intelligence` handler contract.
func (s *Store) Store(ctx context.Context, id, fact, destination string, temporal TemporalType) error {
	if s == nil {
		return nil
	}
	if id == "" {
		id = fmt.Sprintf("kb:%d", time.Now().UnixNano())
	}
	doc := chromem.Document{
		ID:      id,
		Content: fact,
		Metadata: map[string]string{
			"destination": strings.ToLower(destination),
			"temporal":    string(temporal),
			"updated_at":  time.Now().Format(time.RFC3339),
		},
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("kb: store: %w", err)
	}
	return nil
}

// Search queries the KB filtered by destination (when non-empty) and
// returns the relevance-gated SearchOutcome: knowledge_base when the top
// result clears the threshold, web_search_needed otherwise. Never blocks on
// a missing/empty backend — a nil Store always returns web_search_needed.
func (s *Store) Search(ctx context.Context, query, destination string, limit int) SearchOutcome {
	return s.search(ctx, query, destination, limit, true)
}

// search runs the destination-filtered query behind Search and Retrieve;
// only a gated search turns a top result below the threshold into
// web_search_needed.
func (s *Store) search(ctx context.Context, query, destination string, limit int, gated bool) SearchOutcome {
	if s == nil || s.collection.Count() == 0 {
		return SearchOutcome{Source: "web_search_needed"}
	}
	if limit <= 0 {
		limit = 5
	}
	if limit > s.collection.Count() {
		limit = s.collection.Count()
	}

	var where map[string]string
	if destination != "" {
		where = map[string]string{"destination": strings.ToLower(destination)}
	}

	docs, err := s.collection.Query(ctx, query, limit, where, nil)
	if err != nil {
		logger.WarnCF("kb", "search failed, falling back to web search",
			map[string]interface{}{"error": err.Error()})
		return SearchOutcome{Source: "web_search_needed"}
	}
	if len(docs) == 0 || (gated && docs[0].Similarity < s.threshold) {
		return SearchOutcome{Source: "web_search_needed"}
	}

	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		results = append(results, Result{
			ID:           d.ID,
			Content:      d.Content,
			Score:        d.Similarity,
			Destination:  d.Metadata["destination"],
			TemporalType: d.Metadata["temporal"],
			UpdatedAt:    d.Metadata["updated_at"],
		})
	}
	return SearchOutcome{Source: "knowledge_base", Results: results}
}

// Retrieve backs the `retrieve_travel_intelligence` handler, which has no
// live-web fallback semantics of its own: it runs Search's destination-
// filtered query without the relevance gate and returns whatever the KB
// holds (possibly empty).
func (s *Store) Retrieve(ctx context.Context, query, destination string, limit int) []Result {
	return s.search(ctx, query, destination, limit, false).Results
}
