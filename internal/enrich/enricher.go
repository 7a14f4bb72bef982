// Package enrich fills in dish details from photo analysis in the background.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/dishdex/internal/analysis"
	"github.com/kalambet/dishdex/internal/locale"
	"github.com/kalambet/dishdex/internal/storage"
)

// Status is the terminal state of one enrichment run.
type Status int

const (
	// StatusMissing means the dish no longer exists; nothing was changed.
	StatusMissing Status = iota
	// StatusApplied means the analysis was merged into the dish.
	StatusApplied
	// StatusDegraded means the dish now carries the fallback description.
	StatusDegraded
	// StatusSkipped means the dish has no photo to analyze; nothing was changed.
	StatusSkipped
	// StatusInterrupted means ctx ended before a result was stored. The dish
	// is left as it was so the job can be delivered again.
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "missing"
	case StatusApplied:
		return "applied"
	case StatusDegraded:
		return "degraded"
	case StatusSkipped:
		return "skipped"
	case StatusInterrupted:
		return "interrupted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// DishStore is the subset of storage the enricher writes through.
type DishStore interface {
	GetDish(id int64) (storage.Dish, error)
	ApplyAnalysis(id int64, placeholder string, a storage.DishAnalysis) (storage.Dish, error)
	MarkAnalysisUnavailable(id int64, description string) (storage.Dish, error)
}

// ImageReader loads stored dish photos.
type ImageReader interface {
	Get(key string) ([]byte, error)
}

// DishAnalyzer describes a dish photo.
type DishAnalyzer interface {
	Analyze(ctx context.Context, img analysis.Image) analysis.Outcome
}

// DishIndexer keeps the search index in step with dish rows.
type DishIndexer interface {
	Index(ctx context.Context, d storage.Dish) error
}

// Enricher runs fetch, analyze, then apply or degrade for a single dish.
type Enricher struct {
	store    DishStore
	images   ImageReader
	analyzer DishAnalyzer
	index    DishIndexer
	messages locale.Messages
	logger   *slog.Logger
}

// NewEnricher creates an Enricher. Placeholder and fallback strings come
// from the given locale.
func NewEnricher(store DishStore, images ImageReader, analyzer DishAnalyzer, index DishIndexer, localeTag string) *Enricher {
	return &Enricher{
		store:    store,
		images:   images,
		analyzer: analyzer,
		index:    index,
		messages: locale.For(localeTag),
		logger:   slog.Default(),
	}
}

// Enrich processes dish id. It never returns an error or panics. Failures
// end in the degraded state, except when ctx is done, which leaves the dish
// untouched and reports StatusInterrupted. Running it twice for the same dish
// is safe.
func (e *Enricher) Enrich(ctx context.Context, id int64) (status Status) {
	log := e.logger.With("dish_id", id)

	defer func() {
		if r := recover(); r != nil {
			log.Error("enrichment panicked", "panic", r)
			status = e.degrade(ctx, log, id, fmt.Sprintf("panic: %v", r))
		}
	}()

	dish, err := e.store.GetDish(id)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("dish not found, skipping analysis")
		return StatusMissing
	}
	if err != nil {
		return e.degrade(ctx, log, id, fmt.Sprintf("loading dish: %v", err))
	}

	if dish.ImageKey == "" {
		log.Warn("dish has no photo, skipping analysis")
		return StatusSkipped
	}

	log.Info("starting analysis")

	img, err := e.loadImage(dish)
	if err != nil {
		return e.degrade(ctx, log, id, err.Error())
	}

	out := e.analyzer.Analyze(ctx, img)
	if out.Degraded {
		return e.degrade(ctx, log, id, out.Reason)
	}

	updated, err := e.store.ApplyAnalysis(id, e.messages.Placeholder, out.Result.DishAnalysis())
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("dish deleted during analysis")
		return StatusMissing
	}
	if err != nil {
		return e.degrade(ctx, log, id, fmt.Sprintf("applying analysis: %v", err))
	}

	e.reindex(ctx, log, updated)
	log.Info("analysis applied", "name", updated.Name, "dish_type", updated.DishType)
	return StatusApplied
}

func (e *Enricher) loadImage(d storage.Dish) (analysis.Image, error) {
	data, err := e.images.Get(d.ImageKey)
	if err != nil {
		return analysis.Image{}, fmt.Errorf("loading image: %w", err)
	}
	return analysis.Image{ContentType: d.ImageType, Data: data}, nil
}

// degrade persists the fallback description. Failures here are logged and
// not retried. Once ctx is done nothing is written.
func (e *Enricher) degrade(ctx context.Context, log *slog.Logger, id int64, reason string) Status {
	if ctx.Err() != nil {
		log.Warn("analysis interrupted", "reason", reason, "error", ctx.Err())
		return StatusInterrupted
	}
	log.Error("analysis failed, storing fallback", "reason", reason)

	dish, err := e.store.MarkAnalysisUnavailable(id, e.messages.AnalysisUnavailable)
	if errors.Is(err, storage.ErrNotFound) {
		return StatusMissing
	}
	if err != nil {
		log.Error("failed to store fallback description", "error", err)
		return StatusDegraded
	}
	e.reindex(ctx, log, dish)
	return StatusDegraded
}

func (e *Enricher) reindex(ctx context.Context, log *slog.Logger, d storage.Dish) {
	if e.index == nil {
		return
	}
	// The row is already written; the index must follow it even during
	// shutdown.
	if err := e.index.Index(context.WithoutCancel(ctx), d); err != nil {
		log.Error("failed to reindex dish", "error", err)
	}
}
