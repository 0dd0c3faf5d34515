// Package worker – processor loop
//
// This file implements the Worker, the long-running processor that drains
// the ingredient queue. Each cycle requeues expired leases, claims a batch
// under a fresh lease, short-circuits rows with a learned mapping, groups
// the rest by (context, normalized key) so the AI standardizer is called
// once per unique name, resolves each proposal through the double-checking
// resolver, and writes per-row terminal states. One row's failure never
// aborts its siblings; each settles independently.
//
// Dry-run mode runs the mapping, AI, and double-check passes for real but
// keeps the double-check read-only and skips every queue write, returning a
// structured preview of what a live cycle would have done.
package worker

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/grocerly/go-ingredient-worker/internal/config"
	"github.com/grocerly/go-ingredient-worker/internal/domain"
	"github.com/grocerly/go-ingredient-worker/internal/match"
	"github.com/grocerly/go-ingredient-worker/internal/repo"
	"github.com/grocerly/go-ingredient-worker/internal/services"
	"github.com/grocerly/go-ingredient-worker/internal/standardize"
)

// Standardizer is the AI client contract the worker depends on. Standardize
// never errors (it degrades to deterministic fallbacks); StandardizeUnits
// returns nil on failure, leaving unit rows pending.
type Standardizer interface {
	Standardize(ctx context.Context, items []standardize.Item, sctx domain.Context, vocabulary []string) []standardize.Result
	StandardizeUnits(ctx context.Context, items []standardize.Item) []standardize.UnitResult
}

// CanonicalResolver turns AI proposals into stable canonical identities.
// PreviewCanonical performs the same double-check read-only, for dry-run
// cycles.
type CanonicalResolver interface {
	ResolveCanonical(ctx context.Context, proposed string, category *string, confidence float64) (*services.CanonicalResolution, error)
	PreviewCanonical(ctx context.Context, proposed string, category *string, confidence float64) (*services.CanonicalResolution, error)
	SampleVocabulary(ctx context.Context, limit int) ([]string, error)
}

// RowOutcome is the per-row entry of a cycle report or dry-run preview.
type RowOutcome struct {
	RowID         string  `json:"rowId"`
	OriginalName  string  `json:"originalName"`
	CanonicalName string  `json:"canonicalName,omitempty"`
	Category      *string `json:"category"`
	Confidence    float64 `json:"confidence"`
	Status        string  `json:"status"` // resolved | failed | deferred
	Error         string  `json:"error,omitempty"`
}

// CycleSummary aggregates one cycle's outcomes.
type CycleSummary struct {
	TotalProcessed int `json:"totalProcessed"`
	Resolved       int `json:"resolved"`
	Failed         int `json:"failed"`
}

// CycleReport is the structured result of one cycle. In dry-run mode it is
// the preview of what a live cycle would have written.
type CycleReport struct {
	Summary CycleSummary `json:"summary"`
	Results []RowOutcome `json:"results"`
}

// Row outcome statuses.
const (
	outcomeResolved = "resolved"
	outcomeFailed   = "failed"
	// outcomeDeferred marks rows left pending for a later pass (ingredient
	// resolved, unit still outstanding).
	outcomeDeferred = "deferred"
)

// Worker drains the ingredient queue against a shared database. Any number
// of Worker processes may run concurrently; mutual exclusion is entirely
// lease-based.
type Worker struct {
	DB       *gorm.DB
	Cfg      config.WorkerConfig
	AI       Standardizer
	Resolver CanonicalResolver
	Log      zerolog.Logger

	// AIMaxBatch caps the per-call AI payload independently of ChunkSize.
	AIMaxBatch int
	// Limiter paces AI calls client-side; nil means unpaced.
	Limiter *rate.Limiter

	// now is swappable in tests.
	now func() time.Time

	mu     sync.Mutex
	sample standardize.SampleCache
}

// New constructs a Worker.
func New(db *gorm.DB, cfg config.WorkerConfig, aiMaxBatch int, ai Standardizer, resolver CanonicalResolver, log zerolog.Logger, limiter *rate.Limiter) *Worker {
	if aiMaxBatch < 1 {
		aiMaxBatch = 1
	}
	return &Worker{
		DB:         db,
		Cfg:        cfg,
		AI:         ai,
		Resolver:   resolver,
		Log:        log,
		AIMaxBatch: aiMaxBatch,
		Limiter:    limiter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes cycles until the context is canceled or the configured cycle
// budget is exhausted. With MaxCycles == 0 the worker runs forever, sleeping
// Interval between empty cycles; with MaxCycles > 0 it also stops at the
// first empty cycle.
func (w *Worker) Run(ctx context.Context) error {
	cycles := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		report, err := w.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.Log.Error().Err(err).Msg("cycle failed")
		}
		cycles++

		if w.Cfg.MaxCycles > 0 {
			if cycles >= w.Cfg.MaxCycles {
				w.Log.Info().Int("cycles", cycles).Msg("cycle budget exhausted, stopping")
				return nil
			}
			if err == nil && report.Summary.TotalProcessed == 0 {
				w.Log.Info().Int("cycles", cycles).Msg("queue drained, stopping")
				return nil
			}
			continue
		}

		if err != nil || report.Summary.TotalProcessed == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.Cfg.Interval):
			}
		}
	}
}

// RunCycle performs one requeue-claim-resolve-persist pass and returns its
// report. An empty report (TotalProcessed == 0) means no rows were claimable.
func (w *Worker) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := w.now()
	defer func() { cycleDuration.Observe(time.Since(start).Seconds()) }()

	requeued, err := repo.RequeueExpired(ctx, w.DB, start, w.Cfg.BatchLimit, "lease expired")
	if err != nil {
		return nil, err
	}
	if requeued > 0 {
		rowsRequeued.Add(float64(requeued))
		w.Log.Warn().Int64("requeued", requeued).Msg("requeued expired leases")
	}

	rows, err := repo.ClaimPending(ctx, w.DB, w.now(), w.Cfg.BatchLimit, w.Cfg.ResolverID,
		w.Cfg.LeaseDuration, w.Cfg.ReviewMode, w.Cfg.SourceFilter)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &CycleReport{Results: []RowOutcome{}}, nil
	}
	rowsClaimed.Add(float64(len(rows)))

	report := w.processRows(ctx, rows, w.Cfg.DryRun)

	w.Log.Info().
		Int("claimed", len(rows)).
		Int("resolved", report.Summary.Resolved).
		Int("failed", report.Summary.Failed).
		Bool("dry_run", w.Cfg.DryRun).
		Dur("took", time.Since(start)).
		Msg("cycle complete")
	return report, nil
}

// Preview runs the full resolution logic over up to limit claimable rows
// without taking leases or persisting anything. It backs the admin dry-run
// endpoint.
func (w *Worker) Preview(ctx context.Context, limit int) (*CycleReport, error) {
	if limit < 1 || limit > w.Cfg.BatchLimit {
		limit = w.Cfg.BatchLimit
	}
	rows, err := repo.FetchPendingFiltered(ctx, w.DB, w.now(), limit, w.Cfg.ReviewMode, w.Cfg.SourceFilter)
	if err != nil {
		return nil, err
	}
	return w.processRows(ctx, rows, true), nil
}

// group is one unique (context, normalized key) unit of AI work covering
// every claimed row that shares the key.
type group struct {
	key    string
	sctx   domain.Context
	item   standardize.Item
	states []*rowState
	result *standardize.Result
}

func (g *group) failAll(reason string) {
	for _, st := range g.states {
		st.fail(reason)
	}
}

// rowState tracks a row's resolution through the cycle.
type rowState struct {
	row     *domain.QueueItem
	outcome RowOutcome

	resolution *repo.Resolution
}

func (w *Worker) processRows(ctx context.Context, rows []domain.QueueItem, dryRun bool) *CycleReport {
	states := make([]*rowState, len(rows))
	for i := range rows {
		states[i] = &rowState{
			row: &rows[i],
			outcome: RowOutcome{
				RowID:        rows[i].ID,
				OriginalName: rows[i].RawName,
			},
		}
	}

	ingredientStates := make([]*rowState, 0, len(states))
	unitOnlyStates := make([]*rowState, 0)
	for _, st := range states {
		if st.row.NeedsIngredientReview {
			ingredientStates = append(ingredientStates, st)
		} else if st.row.NeedsUnitReview {
			unitOnlyStates = append(unitOnlyStates, st)
		}
	}

	groups := w.resolveFromMappings(ctx, ingredientStates)
	w.standardizeGroups(ctx, groups)
	w.settleGroups(ctx, groups, dryRun)

	if w.Cfg.UnitEnabled {
		w.resolveUnits(ctx, states)
	}

	w.persist(ctx, states, unitOnlyStates, dryRun)

	report := &CycleReport{Results: make([]RowOutcome, 0, len(states))}
	for _, st := range states {
		report.Results = append(report.Results, st.outcome)
		report.Summary.TotalProcessed++
		switch st.outcome.Status {
		case outcomeResolved:
			report.Summary.Resolved++
		case outcomeFailed:
			report.Summary.Failed++
		}
	}
	return report
}

// resolveFromMappings settles rows whose normalized key has a learned
// mapping, and groups the rest by (context, key) for the AI pass. Rows whose
// source cannot be mapped to a standardization context fail here.
func (w *Worker) resolveFromMappings(ctx context.Context, states []*rowState) map[string]*group {
	groups := make(map[string]*group)
	for _, st := range states {
		row := st.row

		sctx, err := w.contextFor(row)
		if err != nil {
			st.fail(err.Error())
			continue
		}

		name := preferredName(row)
		key := match.SearchKey(name)
		if key == "" {
			st.fail("name normalizes to nothing usable")
			continue
		}

		if mapped := w.lookupMapping(ctx, key); mapped != nil {
			entry, err := repo.GetCanonicalByID(ctx, w.DB, mapped.IngredientID)
			if err == nil {
				mappingHits.Inc()
				st.resolve(&repo.Resolution{
					CanonicalName:   entry.Name,
					IngredientID:    entry.ID,
					Confidence:      mapped.Confidence,
					ResolverID:      w.Cfg.ResolverID,
					ClearIngredient: true,
				}, entry.Category)
				continue
			}
			// Mapping points at a vanished canonical row; fall through to
			// the AI path and let a fresh resolution overwrite it.
			w.Log.Warn().Str("key", key).Str("ingredient_id", mapped.IngredientID).
				Msg("stale mapping, re-resolving")
		}

		gkey := string(sctx) + "\x00" + key
		g, ok := groups[gkey]
		if !ok {
			g = &group{
				key:  key,
				sctx: sctx,
				item: standardize.Item{ID: row.ID, Name: name, Amount: row.Amount, Unit: row.Unit},
			}
			groups[gkey] = g
		}
		g.states = append(g.states, st)
	}
	return groups
}

// standardizeGroups runs the AI standardize pass over the deduped groups in
// bounded-concurrency chunks, attaching the best result to each group.
func (w *Worker) standardizeGroups(ctx context.Context, groups map[string]*group) {
	// Regroup by context so one AI call never mixes scoring modes.
	byCtx := make(map[domain.Context][]*group)
	for _, g := range groups {
		byCtx[g.sctx] = append(byCtx[g.sctx], g)
	}
	if len(byCtx) == 0 {
		return
	}

	vocabulary := w.vocabulary(ctx)

	var mu sync.Mutex
	results := make(map[string]standardize.Result) // representative row id → best result

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(w.Cfg.ChunkConcurrency)

	chunkSize := w.Cfg.ChunkSize
	if chunkSize > w.AIMaxBatch {
		chunkSize = w.AIMaxBatch
	}
	for sctx, ctxGroups := range byCtx {
		for _, chunk := range chunkGroups(ctxGroups, chunkSize) {
			sctx, chunk := sctx, chunk
			eg.Go(func() error {
				if w.Limiter != nil {
					if err := w.Limiter.Wait(gctx); err != nil {
						return nil
					}
				}
				items := make([]standardize.Item, len(chunk))
				for i, g := range chunk {
					items[i] = g.item
				}
				known := standardize.KnownIDs(items)
				aiCalls.WithLabelValues("standardize").Inc()
				for _, r := range w.AI.Standardize(gctx, items, sctx, vocabulary) {
					if r.Confidence == standardize.FallbackConfidence && r.Category == nil {
						aiFallbacks.Inc()
					}
					base := standardize.BaseID(r.ID, known)
					mu.Lock()
					// Compound splits share a base id; keep the most
					// confident entry for the row's identity.
					if prev, ok := results[base]; !ok || r.Confidence > prev.Confidence {
						results[base] = r
					}
					mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = eg.Wait()

	for _, g := range groups {
		if r, ok := results[g.item.ID]; ok {
			g.result = &r
		}
	}
}

// settleGroups validates each group's AI result, runs it through the
// double-checking resolver, and fans the resolution out to every row in the
// group. Validation failures settle the whole group as failed; a resolver
// DB error leaves the group's rows leased so they are reclaimed later. In
// dry-run the double-check runs read-only (PreviewCanonical), so the preview
// reports the same remapping a live cycle would perform without the
// get-or-create vocabulary write.
func (w *Worker) settleGroups(ctx context.Context, groups map[string]*group, dryRun bool) {
	for _, g := range groups {
		if g.result == nil {
			g.failAll("standardizer returned no result for this name")
			continue
		}
		r := g.result

		name := match.NormalizeCanonicalName(r.CanonicalName)
		switch {
		case name == "":
			g.failAll("standardizer returned an empty canonical name")
			continue
		case match.Rejected(name):
			g.failAll("canonical name " + strconv.Quote(name) + " is blacklisted")
			continue
		case r.Confidence < w.Cfg.MinWriteConfidence:
			g.failAll("confidence below write threshold")
			continue
		}

		resolve := w.Resolver.ResolveCanonical
		if dryRun {
			resolve = w.Resolver.PreviewCanonical
		}
		res, err := resolve(ctx, name, r.Category, r.Confidence)
		if err != nil {
			if errors.Is(err, services.ErrRejectedCanonicalName) || errors.Is(err, services.ErrEmptyCanonicalName) {
				g.failAll(err.Error())
				continue
			}
			// Persistence failure: leave the rows leased; lease expiry will
			// requeue them.
			w.Log.Error().Err(err).Str("name", name).Msg("canonical resolution failed")
			continue
		}

		for _, st := range g.states {
			st.resolve(&repo.Resolution{
				CanonicalName:   res.CanonicalName,
				IngredientID:    res.IngredientID,
				Confidence:      r.Confidence,
				ResolverID:      w.Cfg.ResolverID,
				ClearIngredient: true,
			}, res.Category)
		}
	}
}

// resolveUnits runs the unit-resolution pass for rows that still need a unit
// and already have (or just got) an ingredient identity. A nil response
// leaves those rows untouched; per-result confidence is gated separately.
func (w *Worker) resolveUnits(ctx context.Context, states []*rowState) {
	byID := make(map[string]*rowState)
	items := make([]standardize.Item, 0)
	for _, st := range states {
		if !st.row.NeedsUnitReview || st.outcome.Status == outcomeFailed {
			continue
		}
		if st.resolution == nil && st.row.ResolvedIngredientID == nil {
			continue
		}
		byID[st.row.ID] = st
		items = append(items, standardize.Item{
			ID:     st.row.ID,
			Name:   preferredName(st.row),
			Amount: st.row.Amount,
			Unit:   st.row.Unit,
		})
	}
	if len(items) == 0 {
		return
	}

	chunkSize := w.Cfg.ChunkSize
	if chunkSize > w.AIMaxBatch {
		chunkSize = w.AIMaxBatch
	}
	for _, chunk := range chunkItems(items, chunkSize) {
		if w.Limiter != nil {
			if err := w.Limiter.Wait(ctx); err != nil {
				return
			}
		}
		aiCalls.WithLabelValues("units").Inc()
		for _, ur := range w.AI.StandardizeUnits(ctx, chunk) {
			st, ok := byID[ur.ID]
			if !ok || ur.Confidence < w.Cfg.UnitMinConfidence {
				continue
			}
			if w.Cfg.UnitDryRun {
				continue
			}
			amount, unit := ur.Amount, ur.Unit
			if st.resolution == nil {
				st.resolution = &repo.Resolution{
					CanonicalName: deref(st.row.ResolvedName),
					IngredientID:  deref(st.row.ResolvedIngredientID),
					Confidence:    derefFloat(st.row.Confidence),
					ResolverID:    w.Cfg.ResolverID,
				}
				st.outcome.CanonicalName = st.resolution.CanonicalName
				st.outcome.Confidence = st.resolution.Confidence
			}
			st.resolution.ResolvedAmount = &amount
			st.resolution.ResolvedUnit = &unit
			st.resolution.ClearUnit = true
		}
	}
}

// persist writes each row's terminal state, honoring dry-run. A row whose
// ingredient resolved but whose unit is still outstanding goes back to
// pending instead of resolving, so a unit pass can claim it later.
func (w *Worker) persist(ctx context.Context, states, unitOnly []*rowState, dryRun bool) {
	now := w.now()
	for _, st := range states {
		switch {
		case st.outcome.Status == outcomeFailed:
			if !dryRun {
				if err := repo.MarkFailed(ctx, w.DB, st.row.ID, w.Cfg.ResolverID, st.outcome.Error, now); err != nil {
					w.Log.Error().Err(err).Str("row", st.row.ID).Msg("mark failed write failed")
					continue
				}
				rowsFailed.Inc()
			}

		case st.resolution != nil:
			unitOutstanding := st.row.NeedsUnitReview && !st.resolution.ClearUnit && st.resolution.ClearIngredient
			if unitOutstanding {
				st.outcome.Status = outcomeDeferred
				if !dryRun {
					if err := repo.MarkIngredientResolvedPendingUnit(ctx, w.DB, st.row.ID, now, *st.resolution); err != nil {
						w.Log.Error().Err(err).Str("row", st.row.ID).Msg("partial resolve write failed")
						continue
					}
					w.saveMapping(ctx, st)
				}
				continue
			}

			st.outcome.Status = outcomeResolved
			if !dryRun {
				if err := repo.MarkResolved(ctx, w.DB, st.row.ID, now, *st.resolution); err != nil {
					w.Log.Error().Err(err).Str("row", st.row.ID).Msg("resolve write failed")
					st.outcome.Status = ""
					st.outcome.Error = "persistence failure, row left for reclaim"
					continue
				}
				w.saveMapping(ctx, st)
				rowsResolved.Inc()
			}
		}
	}

	// Unit-only rows the unit pass did not settle stay leased and are
	// reclaimed after expiry; nothing to write for them here.
	for _, st := range unitOnly {
		if st.outcome.Status == "" {
			st.outcome.Status = outcomeDeferred
			st.outcome.Error = "unit resolution pending"
		}
	}
}

// saveMapping learns key → canonical shortcuts from resolutions confident
// enough to trust on sight next time.
func (w *Worker) saveMapping(ctx context.Context, st *rowState) {
	if !st.resolution.ClearIngredient || st.resolution.Confidence < w.Cfg.MinConfidence {
		return
	}
	key := match.SearchKey(preferredName(st.row))
	if key == "" {
		return
	}
	if err := repo.SaveMapping(ctx, w.DB, key, "", st.resolution.IngredientID, st.resolution.Confidence); err != nil {
		w.Log.Warn().Err(err).Str("key", key).Msg("mapping save failed")
	}
}

// vocabulary returns the cached canonical-name sample, refreshing it after
// the configured TTL.
func (w *Worker) vocabulary(ctx context.Context) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.sample.Valid(now) {
		return w.sample.Names
	}
	names, err := w.Resolver.SampleVocabulary(ctx, w.Cfg.SampleLimit)
	if err != nil {
		w.Log.Warn().Err(err).Msg("vocabulary sample failed")
		return nil
	}
	w.sample = standardize.SampleCache{Names: names, ExpiresAt: now.Add(w.Cfg.SampleCacheTTL)}
	return names
}

// contextFor maps a row to its standardization context: forced by config, or
// derived from the row's source in dynamic mode.
func (w *Worker) contextFor(row *domain.QueueItem) (domain.Context, error) {
	switch w.Cfg.Context {
	case "recipe":
		return domain.ContextRecipe, nil
	case "pantry":
		return domain.ContextPantry, nil
	default:
		return domain.ResolveContext(row.Source)
	}
}

// lookupMapping returns the global mapping for key, or nil.
func (w *Worker) lookupMapping(ctx context.Context, key string) *domain.IngredientMapping {
	m, err := repo.GetMapping(ctx, w.DB, key, "")
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			w.Log.Warn().Err(err).Str("key", key).Msg("mapping lookup failed")
		}
		return nil
	}
	return m
}

// ---- small helpers ----

func (st *rowState) fail(reason string) {
	st.outcome.Status = outcomeFailed
	st.outcome.Error = reason
}

func (st *rowState) resolve(r *repo.Resolution, category *string) {
	st.resolution = r
	st.outcome.CanonicalName = r.CanonicalName
	st.outcome.Category = category
	st.outcome.Confidence = r.Confidence
}

func preferredName(row *domain.QueueItem) string {
	if s := strings.TrimSpace(row.CleanedName); s != "" {
		return s
	}
	return strings.TrimSpace(row.RawName)
}

func chunkGroups(gs []*group, size int) [][]*group {
	if size < 1 {
		size = 1
	}
	var out [][]*group
	for start := 0; start < len(gs); start += size {
		end := start + size
		if end > len(gs) {
			end = len(gs)
		}
		out = append(out, gs[start:end])
	}
	return out
}

func chunkItems(items []standardize.Item, size int) [][]standardize.Item {
	if size < 1 {
		size = 1
	}
	var out [][]standardize.Item
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
