package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
)

// ----- Fake repo -----

type fakeCanonicalRepo struct {
	// existing vocabulary, keyed by exact name
	byName map[string]*domain.CanonicalIngredient
	// search hits returned for any text query
	searchHits []domain.CanonicalIngredient

	// capture args
	getOrCreateName     string
	getOrCreateCategory *string
	getOrCreateCalls    int
	searchCalls         int
	findCalls           int

	sampleNames []string
	sampleLimit int
}

func (r *fakeCanonicalRepo) GetCanonicalByName(ctx context.Context, db *gorm.DB, name string) (*domain.CanonicalIngredient, error) {
	if e, ok := r.byName[name]; ok {
		return e, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeCanonicalRepo) SearchCanonicalByText(ctx context.Context, db *gorm.DB, query string, limit int) ([]domain.CanonicalIngredient, error) {
	r.searchCalls++
	return r.searchHits, nil
}

func (r *fakeCanonicalRepo) FindCanonicalByNames(ctx context.Context, db *gorm.DB, names []string) ([]domain.CanonicalIngredient, error) {
	r.findCalls++
	out := make([]domain.CanonicalIngredient, 0)
	for _, n := range names {
		if e, ok := r.byName[n]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeCanonicalRepo) GetOrCreateCanonical(ctx context.Context, db *gorm.DB, name string, category *string) (*domain.CanonicalIngredient, error) {
	r.getOrCreateCalls++
	r.getOrCreateName = name
	r.getOrCreateCategory = category
	if e, ok := r.byName[name]; ok {
		return e, nil
	}
	return &domain.CanonicalIngredient{ID: "new-" + name, Name: name, Category: category}, nil
}

func (r *fakeCanonicalRepo) SampleCanonicalNames(ctx context.Context, db *gorm.DB, limit int) ([]string, error) {
	r.sampleLimit = limit
	return r.sampleNames, nil
}

func newTestResolver(repo CanonicalRepo) *ResolverService {
	return &ResolverService{
		Repo:          repo,
		MinConfidence: 0.85,
		MinSimilarity: 0.82,
	}
}

func strPtr(s string) *string { return &s }

// ----- Tests -----

func TestResolveCanonical_RejectsEmptyAndBlacklisted(t *testing.T) {
	s := newTestResolver(&fakeCanonicalRepo{})

	if _, err := s.ResolveCanonical(context.Background(), "  7  ", nil, 0.9); !errors.Is(err, ErrEmptyCanonicalName) {
		t.Fatalf("err = %v; want ErrEmptyCanonicalName", err)
	}
	for _, name := range []string{"other", "Unknown", "N/A", "miscellaneous"} {
		if _, err := s.ResolveCanonical(context.Background(), name, nil, 0.95); !errors.Is(err, ErrRejectedCanonicalName) {
			t.Fatalf("ResolveCanonical(%q) err = %v; want ErrRejectedCanonicalName", name, err)
		}
	}
}

func TestResolveCanonical_LowConfidenceSkipsSearch(t *testing.T) {
	fake := &fakeCanonicalRepo{}
	s := newTestResolver(fake)

	res, err := s.ResolveCanonical(context.Background(), "  Shredded Cheese ", strPtr("dairy"), 0.4)
	if err != nil {
		t.Fatalf("ResolveCanonical: %v", err)
	}
	if res.CanonicalName != "shredded cheese" || res.Remapped {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if fake.getOrCreateCalls != 1 || fake.getOrCreateName != "shredded cheese" {
		t.Fatalf("expected direct get-or-create, got calls=%d name=%q", fake.getOrCreateCalls, fake.getOrCreateName)
	}
	if fake.searchCalls != 0 || fake.findCalls != 0 {
		t.Fatalf("low-confidence path must not search (search=%d find=%d)", fake.searchCalls, fake.findCalls)
	}
}

func TestResolveCanonical_ExactMatchWins(t *testing.T) {
	fake := &fakeCanonicalRepo{
		byName: map[string]*domain.CanonicalIngredient{
			"tomato": {ID: "ing-1", Name: "tomato", Category: strPtr("produce")},
		},
	}
	s := newTestResolver(fake)

	res, err := s.ResolveCanonical(context.Background(), "Tomato", strPtr("produce"), 0.95)
	if err != nil {
		t.Fatalf("ResolveCanonical: %v", err)
	}
	if res.IngredientID != "ing-1" || res.Remapped {
		t.Fatalf("expected exact match ing-1, got %+v", res)
	}
	if fake.getOrCreateCalls != 0 {
		t.Fatalf("exact match must not create")
	}
}

func TestResolveCanonical_RemapsToSimilarExisting(t *testing.T) {
	// "roma tomato" does not exist; "tomato roma" does and is token-identical.
	fake := &fakeCanonicalRepo{
		byName: map[string]*domain.CanonicalIngredient{},
		searchHits: []domain.CanonicalIngredient{
			{ID: "ing-2", Name: "tomato roma", Category: strPtr("produce")},
		},
	}
	s := newTestResolver(fake)

	res, err := s.ResolveCanonical(context.Background(), "Roma Tomato", strPtr("produce"), 0.95)
	if err != nil {
		t.Fatalf("ResolveCanonical: %v", err)
	}
	if !res.Remapped || res.IngredientID != "ing-2" || res.CanonicalName != "tomato roma" {
		t.Fatalf("expected remap to ing-2, got %+v", res)
	}
	if fake.getOrCreateCalls != 0 {
		t.Fatalf("remap must not create a near-duplicate")
	}
}

func TestResolveCanonical_CategoryMismatchPenalty(t *testing.T) {
	// Token-identical candidate would score 1.0, but the category mismatch
	// penalty drops it below a threshold set just under 1.0.
	fake := &fakeCanonicalRepo{
		byName: map[string]*domain.CanonicalIngredient{},
		searchHits: []domain.CanonicalIngredient{
			{ID: "ing-3", Name: "tomato roma", Category: strPtr("pantry")},
		},
	}
	s := newTestResolver(fake)
	s.MinSimilarity = 0.99

	res, err := s.ResolveCanonical(context.Background(), "roma tomato", strPtr("produce"), 0.95)
	if err != nil {
		t.Fatalf("ResolveCanonical: %v", err)
	}
	if res.Remapped {
		t.Fatalf("category mismatch should have blocked the remap: %+v", res)
	}
	if res.CanonicalName != "roma tomato" || fake.getOrCreateCalls != 1 {
		t.Fatalf("expected proposal kept and created, got %+v (creates=%d)", res, fake.getOrCreateCalls)
	}
}

func TestResolveCanonical_NoCandidateCreatesProposal(t *testing.T) {
	fake := &fakeCanonicalRepo{byName: map[string]*domain.CanonicalIngredient{}}
	s := newTestResolver(fake)

	res, err := s.ResolveCanonical(context.Background(), "Dragon Fruit", strPtr("produce"), 0.95)
	if err != nil {
		t.Fatalf("ResolveCanonical: %v", err)
	}
	if res.Remapped || res.CanonicalName != "dragon fruit" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if fake.getOrCreateCategory == nil || *fake.getOrCreateCategory != "produce" {
		t.Fatalf("category not forwarded to create: %v", fake.getOrCreateCategory)
	}
}

func TestPreviewCanonical_RemapsWithoutWriting(t *testing.T) {
	fake := &fakeCanonicalRepo{
		byName: map[string]*domain.CanonicalIngredient{},
		searchHits: []domain.CanonicalIngredient{
			{ID: "ing-2", Name: "tomato roma", Category: strPtr("produce")},
		},
	}
	s := newTestResolver(fake)

	res, err := s.PreviewCanonical(context.Background(), "Roma Tomato", strPtr("produce"), 0.95)
	if err != nil {
		t.Fatalf("PreviewCanonical: %v", err)
	}
	if !res.Remapped || res.IngredientID != "ing-2" || res.CanonicalName != "tomato roma" {
		t.Fatalf("expected read-only remap to ing-2, got %+v", res)
	}
	if fake.getOrCreateCalls != 0 {
		t.Fatalf("preview must never create (creates=%d)", fake.getOrCreateCalls)
	}
}

func TestPreviewCanonical_NewNameReportedNotCreated(t *testing.T) {
	fake := &fakeCanonicalRepo{byName: map[string]*domain.CanonicalIngredient{}}
	s := newTestResolver(fake)

	res, err := s.PreviewCanonical(context.Background(), "Dragon Fruit", strPtr("produce"), 0.95)
	if err != nil {
		t.Fatalf("PreviewCanonical: %v", err)
	}
	if res.Remapped || res.CanonicalName != "dragon fruit" || res.IngredientID != "" {
		t.Fatalf("unexpected preview resolution: %+v", res)
	}
	if fake.getOrCreateCalls != 0 {
		t.Fatalf("preview must never create (creates=%d)", fake.getOrCreateCalls)
	}

	// Low confidence skips the search too, same as the live path.
	low, err := s.PreviewCanonical(context.Background(), "Shredded Cheese", strPtr("dairy"), 0.4)
	if err != nil {
		t.Fatalf("PreviewCanonical: %v", err)
	}
	if low.CanonicalName != "shredded cheese" || fake.getOrCreateCalls != 0 {
		t.Fatalf("unexpected low-confidence preview: %+v (creates=%d)", low, fake.getOrCreateCalls)
	}
}

func TestSampleVocabulary(t *testing.T) {
	fake := &fakeCanonicalRepo{sampleNames: []string{"tomato", "basil"}}
	s := newTestResolver(fake)

	names, err := s.SampleVocabulary(context.Background(), 150)
	if err != nil {
		t.Fatalf("SampleVocabulary: %v", err)
	}
	if len(names) != 2 || fake.sampleLimit != 150 {
		t.Fatalf("unexpected sample: %v (limit=%d)", names, fake.sampleLimit)
	}
}
