// Package services – ResolverService
//
// This file implements the ResolverService, which turns an AI-proposed
// canonical name into a stable canonical ingredient identity. Its core is the
// double-check: a high-confidence proposal is validated against the existing
// vocabulary (exact lookup, then search-variant candidates scored by token
// similarity) and remapped to an existing entry when the similarity clears a
// threshold. This prevents vocabulary drift when many independent AI calls
// describe the same food slightly differently ("roma tomato" vs
// "tomato, roma").
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the proposed name, confidence, and whether the proposal was remapped.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
	"github.com/grocerly/go-ingredient-worker/internal/match"
	"github.com/grocerly/go-ingredient-worker/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// categoryMismatchPenalty is subtracted from a candidate's similarity score
// when both the proposal and the candidate carry a category and they differ.
const categoryMismatchPenalty = 0.05

// candidateSearchLimit caps how many text-search hits are considered per
// search variant during double-checking.
const candidateSearchLimit = 10

// CanonicalRepo defines the repository contract required by ResolverService.
type CanonicalRepo interface {
	// GetCanonicalByName fetches a canonical ingredient by exact name.
	GetCanonicalByName(ctx context.Context, db *gorm.DB, name string) (*domain.CanonicalIngredient, error)

	// SearchCanonicalByText returns canonical ingredients whose name contains
	// the query substring.
	SearchCanonicalByText(ctx context.Context, db *gorm.DB, query string, limit int) ([]domain.CanonicalIngredient, error)

	// FindCanonicalByNames returns canonical ingredients whose name exactly
	// matches any of the given names.
	FindCanonicalByNames(ctx context.Context, db *gorm.DB, names []string) ([]domain.CanonicalIngredient, error)

	// GetOrCreateCanonical returns the existing entry for name or creates it.
	// Race-safe across concurrent workers via the unique name constraint.
	GetOrCreateCanonical(ctx context.Context, db *gorm.DB, name string, category *string) (*domain.CanonicalIngredient, error)

	// SampleCanonicalNames returns up to limit existing canonical names,
	// newest first, for biasing the AI prompt toward the known vocabulary.
	SampleCanonicalNames(ctx context.Context, db *gorm.DB, limit int) ([]string, error)
}

// gormCanonicalRepo adapts the package-level repo functions to CanonicalRepo.
type gormCanonicalRepo struct{}

func (gormCanonicalRepo) GetCanonicalByName(ctx context.Context, db *gorm.DB, name string) (*domain.CanonicalIngredient, error) {
	return repo.GetCanonicalByName(ctx, db, name)
}

func (gormCanonicalRepo) SearchCanonicalByText(ctx context.Context, db *gorm.DB, query string, limit int) ([]domain.CanonicalIngredient, error) {
	return repo.SearchCanonicalByText(ctx, db, query, limit)
}

func (gormCanonicalRepo) FindCanonicalByNames(ctx context.Context, db *gorm.DB, names []string) ([]domain.CanonicalIngredient, error) {
	return repo.FindCanonicalByNames(ctx, db, names)
}

func (gormCanonicalRepo) GetOrCreateCanonical(ctx context.Context, db *gorm.DB, name string, category *string) (*domain.CanonicalIngredient, error) {
	return repo.GetOrCreateCanonical(ctx, db, name, category)
}

func (gormCanonicalRepo) SampleCanonicalNames(ctx context.Context, db *gorm.DB, limit int) ([]string, error) {
	return repo.SampleCanonicalNames(ctx, db, limit)
}

// CanonicalResolution is the outcome of resolving a proposed canonical name: the
// canonical identity the proposal settled on, and whether the double-check
// remapped it onto a pre-existing entry instead of the AI's wording.
type CanonicalResolution struct {
	IngredientID  string
	CanonicalName string
	Category      *string
	Remapped      bool
}

// ResolverService resolves AI-proposed canonical names into canonical
// ingredient identities, guarding the vocabulary against near-duplicates.
type ResolverService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the canonical vocabulary repository.
	Repo CanonicalRepo

	// MinConfidence is the confidence floor below which the AI's cleaned name
	// is trusted as-is, skipping the candidate search.
	MinConfidence float64
	// MinSimilarity is the score a candidate must reach to remap the proposal
	// onto an existing canonical entry.
	MinSimilarity float64
}

// NewResolverService constructs a ResolverService with the given thresholds.
func NewResolverService(db *gorm.DB, minConfidence, minSimilarity float64) *ResolverService {
	return &ResolverService{
		DB:            db,
		Repo:          gormCanonicalRepo{},
		MinConfidence: minConfidence,
		MinSimilarity: minSimilarity,
	}
}

// ResolveCanonical resolves an AI proposal to a canonical ingredient.
//
// Below MinConfidence the proposal is written (get-or-create) without a
// candidate search. Above it, an exact match wins outright; otherwise every
// search variant of the proposal is used to collect distinct candidates from
// the vocabulary, each is scored against the proposal (with a small penalty
// for a category mismatch), and the best candidate clearing MinSimilarity
// replaces the proposal. Failing all that, the proposal is created as a new
// canonical entry.
func (s *ResolverService) ResolveCanonical(ctx context.Context, proposed string, category *string, confidence float64) (*CanonicalResolution, error) {
	tr := otel.Tracer("services/ResolverService")
	ctx, span := tr.Start(ctx, "ResolveCanonical",
		trace.WithAttributes(
			attribute.String("canonical.proposed", proposed),
			attribute.Float64("canonical.confidence", confidence),
		),
	)
	defer span.End()

	name := match.NormalizeCanonicalName(proposed)
	if name == "" {
		return nil, ErrEmptyCanonicalName
	}
	if match.Rejected(name) {
		return nil, ErrRejectedCanonicalName
	}

	if confidence < s.MinConfidence {
		entry, err := s.Repo.GetOrCreateCanonical(ctx, s.DB, name, category)
		if err != nil {
			return nil, err
		}
		return resolutionFor(entry, false), nil
	}

	// Exact match short-circuits the candidate search.
	if entry, err := s.Repo.GetCanonicalByName(ctx, s.DB, name); err == nil {
		return resolutionFor(entry, false), nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	best, bestScore, err := s.bestCandidate(ctx, name, category)
	if err != nil {
		return nil, err
	}
	if best != nil && bestScore >= s.MinSimilarity {
		span.SetAttributes(
			attribute.Bool("canonical.remapped", true),
			attribute.String("canonical.remapped_to", best.Name),
			attribute.Float64("canonical.similarity", bestScore),
		)
		return resolutionFor(best, true), nil
	}

	entry, err := s.Repo.GetOrCreateCanonical(ctx, s.DB, name, category)
	if err != nil {
		return nil, err
	}
	return resolutionFor(entry, false), nil
}

// PreviewCanonical runs the same double-check as ResolveCanonical without
// writing anything: the exact lookup and candidate scoring are read-only, and
// a proposal that matches no existing entry is reported as-is with an empty
// ingredient id instead of being created. Dry-run cycles use it so a preview
// shows the remapping a live run would perform.
func (s *ResolverService) PreviewCanonical(ctx context.Context, proposed string, category *string, confidence float64) (*CanonicalResolution, error) {
	name := match.NormalizeCanonicalName(proposed)
	if name == "" {
		return nil, ErrEmptyCanonicalName
	}
	if match.Rejected(name) {
		return nil, ErrRejectedCanonicalName
	}

	if confidence >= s.MinConfidence {
		if entry, err := s.Repo.GetCanonicalByName(ctx, s.DB, name); err == nil {
			return resolutionFor(entry, false), nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		best, bestScore, err := s.bestCandidate(ctx, name, category)
		if err != nil {
			return nil, err
		}
		if best != nil && bestScore >= s.MinSimilarity {
			return resolutionFor(best, true), nil
		}
	}
	return &CanonicalResolution{CanonicalName: name, Category: category}, nil
}

// SampleVocabulary returns up to limit existing canonical names for the AI
// prompt's vocabulary bias.
func (s *ResolverService) SampleVocabulary(ctx context.Context, limit int) ([]string, error) {
	return s.Repo.SampleCanonicalNames(ctx, s.DB, limit)
}

// bestCandidate collects distinct vocabulary candidates via every search
// variant of name (exact variant lookup plus substring search) and returns
// the highest-scoring one.
func (s *ResolverService) bestCandidate(ctx context.Context, name string, category *string) (*domain.CanonicalIngredient, float64, error) {
	variants := match.BuildSearchVariants(name)

	seen := make(map[string]struct{})
	candidates := make([]domain.CanonicalIngredient, 0, 8)
	add := func(entries []domain.CanonicalIngredient) {
		for _, e := range entries {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			candidates = append(candidates, e)
		}
	}

	byName, err := s.Repo.FindCanonicalByNames(ctx, s.DB, variants)
	if err != nil {
		return nil, 0, err
	}
	add(byName)

	for _, v := range variants {
		hits, err := s.Repo.SearchCanonicalByText(ctx, s.DB, v, candidateSearchLimit)
		if err != nil {
			return nil, 0, err
		}
		add(hits)
	}

	var best *domain.CanonicalIngredient
	bestScore := 0.0
	for i := range candidates {
		c := &candidates[i]
		score := match.ScoreCanonicalSimilarity(name, c.Name)
		if category != nil && c.Category != nil && *category != *c.Category {
			score -= categoryMismatchPenalty
		}
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best, bestScore, nil
}

func resolutionFor(e *domain.CanonicalIngredient, remapped bool) *CanonicalResolution {
	return &CanonicalResolution{
		IngredientID:  e.ID,
		CanonicalName: e.Name,
		Category:      e.Category,
		Remapped:      remapped,
	}
}
