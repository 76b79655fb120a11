package kb

import (
	"context"
	"math"
	"strings"
	"testing"

	chromem "github.com/philippgille/chromem-go"
)

// fakeEmbeddingFunc returns a deterministic bag-of-words unit vector over a
// fixed vocabulary, so similarity scores in tests are predictable without a
// network-backed embedding provider.
func fakeEmbeddingFunc(vocab []string) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		lower := strings.ToLower(text)
		vec := make([]float32, len(vocab))
		var norm float64
		for i, word := range vocab {
			if strings.Contains(lower, word) {
				vec[i] = 1
				norm++
			}
		}
		if norm == 0 {
			return vec, nil
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
		return vec, nil
	}
}

var testVocab = []string{"carnival", "rio", "hiking", "patagonia", "winter", "festival"}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection("travel_knowledge", nil, fakeEmbeddingFunc(testVocab))
	if err != nil {
		t.Fatalf("GetOrCreateCollection: %v", err)
	}
	return &Store{db: db, collection: collection, threshold: RelevanceThreshold}
}

func TestClassifyTemporalTypeAnnualIsEvent(t *testing.T) {
	if got := ClassifyTemporalType("happens every July, annual event"); got != TemporalEvent {
		t.Errorf("got %q, want event", got)
	}
}

func TestClassifyTemporalTypeSeasonWordIsSeasonal(t *testing.T) {
	if got := ClassifyTemporalType("only open in winter"); got != TemporalSeasonal {
		t.Errorf("got %q, want seasonal", got)
	}
}

func TestClassifyTemporalTypeDefaultsToEvergreen(t *testing.T) {
	if got := ClassifyTemporalType("always open"); got != TemporalEvergreen {
		t.Errorf("got %q, want evergreen", got)
	}
	if got := ClassifyTemporalType(""); got != TemporalEvergreen {
		t.Errorf("got %q, want evergreen for empty dates", got)
	}
}

func TestNilStoreSearchAlwaysReturnsWebSearchNeeded(t *testing.T) {
	var s *Store
	outcome := s.Search(context.Background(), "carnival", "rio", 5)
	if outcome.Source != "web_search_needed" {
		t.Errorf("Source = %q, want web_search_needed for nil store", outcome.Source)
	}
	if outcome.Results != nil {
		t.Errorf("Results = %v, want nil", outcome.Results)
	}
}

func TestNilStoreStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.Store(context.Background(), "id", "fact", "rio", TemporalEvergreen); err != nil {
		t.Errorf("Store on nil *Store returned %v, want nil", err)
	}
}

func TestSearchEmptyCollectionReturnsWebSearchNeeded(t *testing.T) {
	s := newTestStore(t)
	outcome := s.Search(context.Background(), "carnival", "rio", 5)
	if outcome.Source != "web_search_needed" {
		t.Errorf("Source = %q, want web_search_needed for empty collection", outcome.Source)
	}
}

func TestSearchRelevantHitReturnsKnowledgeBase(t *testing.T) {
	s := newTestStore(t)
	if err := s.Store(context.Background(), "fact-1", "Rio carnival draws huge crowds every February", "rio", TemporalEvent); err != nil {
		t.Fatalf("Store: %v", err)
	}

	outcome := s.Search(context.Background(), "carnival", "rio", 5)
	if outcome.Source != "knowledge_base" {
		t.Fatalf("Source = %q, want knowledge_base", outcome.Source)
	}
	if len(outcome.Results) != 1 {
		t.Fatalf("len(Results) = %d, want 1", len(outcome.Results))
	}
	if outcome.Results[0].Destination != "rio" {
		t.Errorf("Destination = %q, want rio", outcome.Results[0].Destination)
	}
	if outcome.Results[0].TemporalType != string(TemporalEvent) {
		t.Errorf("TemporalType = %q, want %q", outcome.Results[0].TemporalType, TemporalEvent)
	}
}

func TestSearchBelowThresholdReturnsWebSearchNeeded(t *testing.T) {
	s := newTestStore(t)
	if err := s.Store(context.Background(), "fact-1", "Patagonia hiking trails close in winter", "patagonia", TemporalSeasonal); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// "festival" shares no vocabulary terms with the stored fact, so
	// similarity is 0 and must stay below the relevance threshold.
	outcome := s.Search(context.Background(), "festival", "patagonia", 5)
	if outcome.Source != "web_search_needed" {
		t.Errorf("Source = %q, want web_search_needed below threshold", outcome.Source)
	}
}

func TestSearchFiltersByDestination(t *testing.T) {
	s := newTestStore(t)
	if err := s.Store(context.Background(), "fact-rio", "Rio carnival is a massive street festival", "rio", TemporalEvent); err != nil {
		t.Fatalf("Store rio fact: %v", err)
	}
	if err := s.Store(context.Background(), "fact-patagonia", "Patagonia hiking festival happens in summer", "patagonia", TemporalSeasonal); err != nil {
		t.Fatalf("Store patagonia fact: %v", err)
	}

	// "rio festival" scores 2/sqrt(6) ≈ 0.82 against the rio fact, clearing
	// the threshold; the patagonia fact also mentions "festival" and must be
	// filtered out by destination.
	outcome := s.Search(context.Background(), "rio festival", "rio", 5)
	if outcome.Source != "knowledge_base" {
		t.Fatalf("Source = %q, want knowledge_base", outcome.Source)
	}
	for _, r := range outcome.Results {
		if r.Destination != "rio" {
			t.Errorf("got result scoped to %q, want only rio", r.Destination)
		}
	}
}

func TestRetrieveReturnsResultsWithoutWebFallbackSignal(t *testing.T) {
	s := newTestStore(t)
	if err := s.Store(context.Background(), "fact-1", "Rio carnival is a huge festival", "rio", TemporalEvent); err != nil {
		t.Fatalf("Store: %v", err)
	}

	results := s.Retrieve(context.Background(), "carnival", "rio", 5)
	if len(results) != 1 {
		t.Fatalf("len(Retrieve) = %d, want 1", len(results))
	}
}

func TestRetrieveOnNilStoreReturnsEmpty(t *testing.T) {
	var s *Store
	results := s.Retrieve(context.Background(), "carnival", "rio", 5)
	if results != nil {
		t.Errorf("Retrieve on nil store = %v, want nil", results)
	}
}
