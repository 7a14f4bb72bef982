// Package catalog exposes the dish operations used by the HTTP API, the MCP
// server and the CLI. Every mutation updates the search index in the same
// call.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/dishdex/internal/assets"
	"github.com/kalambet/dishdex/internal/enrich"
	"github.com/kalambet/dishdex/internal/locale"
	"github.com/kalambet/dishdex/internal/profile"
	"github.com/kalambet/dishdex/internal/search"
	"github.com/kalambet/dishdex/internal/storage"
)

var (
	// ErrNotFound is returned for unknown dishes and owners.
	ErrNotFound = storage.ErrNotFound
	// ErrInvalid wraps input validation failures.
	ErrInvalid = errors.New("invalid input")
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// NewDish is the owner-supplied part of a dish at creation.
type NewDish struct {
	OwnerID   int64
	Name      string
	Favorite  bool
	UserNotes string
	Image     []byte
}

// DishUpdate replaces the owner-editable fields of a dish.
type DishUpdate struct {
	Name        string
	Description string
	DishType    string
	Pairings    []storage.Pairing
	Favorite    bool
	UserNotes   string
}

// Scope limits a search or listing.
type Scope struct {
	OwnerID       int64 // 0 for every owner
	FavoritesOnly bool
}

// Result is one search hit with its dish.
type Result struct {
	Dish storage.Dish
	Rank float64
}

// Service implements the catalog operations.
type Service struct {
	store    *storage.Store
	index    *search.DishIndexer
	images   *assets.Store
	messages locale.Messages
	logger   *slog.Logger
}

// NewService wires a Service. images may be nil when photos are not stored.
func NewService(store *storage.Store, index *search.DishIndexer, images *assets.Store, localeTag string) *Service {
	return &Service{
		store:    store,
		index:    index,
		images:   images,
		messages: locale.For(localeTag),
		logger:   slog.Default(),
	}
}

// CreateDish stores the photo, inserts the dish with placeholder content,
// indexes it, and schedules enrichment.
func (s *Service) CreateDish(ctx context.Context, in NewDish) (storage.Dish, error) {
	if in.OwnerID != 0 {
		if _, err := s.store.GetOwner(in.OwnerID); err != nil {
			return storage.Dish{}, fmt.Errorf("owner %d: %w", in.OwnerID, err)
		}
	}

	d := storage.Dish{
		OwnerID:     in.OwnerID,
		Name:        strings.TrimSpace(in.Name),
		Description: s.messages.Analyzing,
		Favorite:    in.Favorite,
		UserNotes:   in.UserNotes,
	}
	if d.Name == "" {
		d.Name = s.messages.Placeholder
	}

	if len(in.Image) > 0 {
		if s.images == nil {
			return storage.Dish{}, fmt.Errorf("%w: image storage is not configured", ErrInvalid)
		}
		key, ct, err := s.images.Put(in.Image)
		if err != nil {
			return storage.Dish{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		d.ImageKey, d.ImageType = key, ct
	}

	created, err := s.store.CreateDish(d)
	if err != nil {
		s.removeImage(d.ImageKey)
		return storage.Dish{}, fmt.Errorf("creating dish: %w", err)
	}
	if err := s.index.Index(ctx, created); err != nil {
		return created, fmt.Errorf("indexing dish %d: %w", created.ID, err)
	}

	if created.ImageKey != "" {
		if _, err := s.ScheduleEnrichment(created.ID); err != nil {
			s.logger.Error("failed to schedule enrichment", "dish_id", created.ID, "error", err)
		}
	}
	s.logger.Info("dish created", "dish_id", created.ID, "owner_id", created.OwnerID)
	return created, nil
}

// GetDish returns a dish by id.
func (s *Service) GetDish(id int64) (storage.Dish, error) {
	return s.store.GetDish(id)
}

// ImageFor returns the photo bytes and content type of a dish.
func (s *Service) ImageFor(id int64) ([]byte, string, error) {
	d, err := s.store.GetDish(id)
	if err != nil {
		return nil, "", err
	}
	if d.ImageKey == "" || s.images == nil {
		return nil, "", ErrNotFound
	}
	data, err := s.images.Get(d.ImageKey)
	if errors.Is(err, assets.ErrNotFound) {
		return nil, "", ErrNotFound
	}
	return data, d.ImageType, err
}

// UpdateDish replaces the editable fields of dish id and reindexes it.
func (s *Service) UpdateDish(ctx context.Context, id int64, u DishUpdate) (storage.Dish, error) {
	cur, err := s.store.GetDish(id)
	if err != nil {
		return storage.Dish{}, err
	}
	if strings.TrimSpace(u.Name) == "" {
		return storage.Dish{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	cur.Name = strings.TrimSpace(u.Name)
	cur.Description = u.Description
	cur.DishType = u.DishType
	cur.Pairings = u.Pairings
	cur.Favorite = u.Favorite
	cur.UserNotes = u.UserNotes

	updated, err := s.store.UpdateDish(cur)
	if err != nil {
		return storage.Dish{}, fmt.Errorf("updating dish %d: %w", id, err)
	}
	if err := s.index.Index(ctx, updated); err != nil {
		return updated, fmt.Errorf("indexing dish %d: %w", id, err)
	}
	return updated, nil
}

// ToggleFavorite flips the favorite flag and reindexes the dish.
func (s *Service) ToggleFavorite(ctx context.Context, id int64) (storage.Dish, error) {
	d, err := s.store.ToggleFavorite(id)
	if err != nil {
		return storage.Dish{}, err
	}
	if err := s.index.Index(ctx, d); err != nil {
		return d, fmt.Errorf("indexing dish %d: %w", id, err)
	}
	return d, nil
}

// DeleteDish removes the dish row, its index entry and its photo.
func (s *Service) DeleteDish(ctx context.Context, id int64) error {
	d, err := s.store.GetDish(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDish(id); err != nil {
		return fmt.Errorf("deleting dish %d: %w", id, err)
	}
	if err := s.index.Deindex(ctx, id); err != nil {
		return fmt.Errorf("removing dish %d from index: %w", id, err)
	}
	s.removeImage(d.ImageKey)
	s.logger.Info("dish deleted", "dish_id", id)
	return nil
}

func (s *Service) removeImage(key string) {
	if key == "" || s.images == nil {
		return
	}
	if err := s.images.Delete(key); err != nil {
		s.logger.Warn("failed to delete image", "key", key, "error", err)
	}
}

// ListDishes lists dishes newest first.
func (s *Service) ListDishes(scope Scope, limit, offset int) ([]storage.Dish, error) {
	return s.store.ListDishes(storage.DishQuery{
		OwnerID:       scope.OwnerID,
		FavoritesOnly: scope.FavoritesOnly,
		Limit:         clampLimit(limit),
		Offset:        offset,
	})
}

// SearchDishes ranks dishes in scope against query. A blank query lists the
// scope newest first. Malformed queries yield no results rather than errors.
func (s *Service) SearchDishes(ctx context.Context, scope Scope, query string, limit int) ([]Result, error) {
	limit = clampLimit(limit)

	if strings.TrimSpace(query) == "" {
		dishes, err := s.ListDishes(scope, limit, 0)
		if err != nil {
			return nil, err
		}
		out := make([]Result, len(dishes))
		for i, d := range dishes {
			out[i] = Result{Dish: d}
		}
		return out, nil
	}

	var filters []search.Filter
	if scope.OwnerID != 0 {
		filters = append(filters, search.Filter{Column: "owner_id", Value: scope.OwnerID})
	}
	if scope.FavoritesOnly {
		filters = append(filters, search.Filter{Column: "favorite", Value: true})
	}

	hits, err := s.index.Search(ctx, query, limit, filters...)
	if err != nil {
		return nil, fmt.Errorf("searching dishes: %w", err)
	}
	if len(hits) == 0 {
		return []Result{}, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	byID, err := s.store.DishesByID(ids)
	if err != nil {
		return nil, fmt.Errorf("loading search results: %w", err)
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		d, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, Result{Dish: d, Rank: h.Rank})
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

// ScheduleEnrichment enqueues an analyze_dish job and returns its id. Dishes
// without a photo have nothing to analyze and are rejected with ErrInvalid.
func (s *Service) ScheduleEnrichment(dishID int64) (string, error) {
	d, err := s.store.GetDish(dishID)
	if err != nil {
		return "", err
	}
	if d.ImageKey == "" {
		return "", fmt.Errorf("%w: dish %d has no photo to analyze", ErrInvalid, dishID)
	}
	id := uuid.NewString()
	payload := fmt.Sprintf(`{"dish_id":%d}`, dishID)
	if err := s.store.EnqueueJob(storage.Job{ID: id, Type: enrich.JobAnalyzeDish, PayloadJSON: payload}); err != nil {
		return "", fmt.Errorf("enqueueing analysis: %w", err)
	}
	return id, nil
}

// RunProfileAggregation enqueues a profile refresh for ownerID, or for every
// owner when ownerID is 0.
func (s *Service) RunProfileAggregation(ownerID int64) (string, error) {
	if ownerID != 0 {
		if _, err := s.store.GetOwner(ownerID); err != nil {
			return "", err
		}
	}
	return profile.Enqueue(s.store, ownerID)
}

// RebuildIndex recreates the search index from the dishes table.
func (s *Service) RebuildIndex(ctx context.Context) (int, error) {
	return s.index.RebuildAll(ctx, search.DishSource(s.store))
}

// CreateOwner adds an owner.
func (s *Service) CreateOwner(name, email string) (storage.Owner, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.Owner{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	o, err := s.store.CreateOwner(storage.Owner{Name: name, Email: strings.TrimSpace(email)})
	if err != nil {
		return storage.Owner{}, fmt.Errorf("creating owner: %w", err)
	}
	return o, nil
}

// GetOwner returns an owner by id.
func (s *Service) GetOwner(id int64) (storage.Owner, error) {
	return s.store.GetOwner(id)
}

// Stats summarizes catalog contents.
type Stats struct {
	Dishes      int
	IndexedRows int
	Jobs        map[string]int
}

// Stats returns dish, index and job queue counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.Dishes, err = s.store.CountDishes(0); err != nil {
		return st, err
	}
	if st.IndexedRows, err = s.index.Count(ctx); err != nil {
		return st, err
	}
	if st.Jobs, err = s.store.JobCounts(); err != nil {
		return st, err
	}
	return st, nil
}
