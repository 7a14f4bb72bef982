// Package profile derives a one-line eating profile for each owner from the
// dishes they have recorded.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/dishdex/internal/analysis"
	"github.com/kalambet/dishdex/internal/locale"
	"github.com/kalambet/dishdex/internal/storage"
)

// Store defines the storage operations the Aggregator needs.
// Implemented by storage.Store.
type Store interface {
	GetOwner(id int64) (storage.Owner, error)
	OwnersWithDishes(afterID int64, limit int) ([]storage.Owner, error)
	RecentDishes(ownerID int64, limit int) ([]storage.Dish, error)
	CountDishes(ownerID int64) (int, error)
	SetEatingProfile(id int64, profile string) error
}

// Writer turns profile input into a sentence.
type Writer interface {
	Write(ctx context.Context, s analysis.ProfileStats) (string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Report summarizes one aggregation run.
type Report struct {
	Processed int
	Updated   int
	Failed    int
	// Failures maps owner ID to the error that stopped its refresh.
	Failures map[int64]string
	Duration time.Duration
}

// Aggregator recomputes eating profiles.
type Aggregator struct {
	store     Store
	writer    Writer
	messages  locale.Messages
	batchSize int
	clock     Clock
	logger    *slog.Logger
}

// NewAggregator creates an Aggregator. batchSize <= 0 defaults to 50.
func NewAggregator(store Store, writer Writer, localeTag string, batchSize int) *Aggregator {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Aggregator{
		store:     store,
		writer:    writer,
		messages:  locale.For(localeTag),
		batchSize: batchSize,
		clock:     realClock{},
		logger:    slog.Default(),
	}
}

// NewAggregatorWithClock creates an Aggregator with a custom clock (for testing).
func NewAggregatorWithClock(store Store, writer Writer, localeTag string, batchSize int, clock Clock) *Aggregator {
	a := NewAggregator(store, writer, localeTag, batchSize)
	a.clock = clock
	return a
}

// Run refreshes every owner that has dishes. A failure for one owner is
// logged and counted and does not stop the others. Run stops early only when
// ctx is cancelled or the owner listing itself fails.
func (a *Aggregator) Run(ctx context.Context) Report {
	start := a.clock.Now()
	rep := Report{Failures: make(map[int64]string)}

	var after int64
	for ctx.Err() == nil {
		owners, err := a.store.OwnersWithDishes(after, a.batchSize)
		if err != nil {
			a.logger.Error("listing owners failed", "after_id", after, "error", err)
			break
		}
		if len(owners) == 0 {
			break
		}
		for _, o := range owners {
			if ctx.Err() != nil {
				break
			}
			rep.Processed++
			if _, err := a.refresh(ctx, o.ID); err != nil {
				rep.Failed++
				rep.Failures[o.ID] = err.Error()
				a.logger.Error("profile refresh failed", "owner_id", o.ID, "error", err)
				continue
			}
			rep.Updated++
		}
		after = owners[len(owners)-1].ID
	}

	rep.Duration = a.clock.Now().Sub(start)
	a.logger.Info("profile aggregation finished",
		"processed", rep.Processed, "updated", rep.Updated, "failed", rep.Failed, "duration", rep.Duration)
	return rep
}

// RefreshOwner recomputes and stores one owner's profile and returns it.
// Owners without dishes get the default profile.
func (a *Aggregator) RefreshOwner(ctx context.Context, ownerID int64) (string, error) {
	if _, err := a.store.GetOwner(ownerID); err != nil {
		return "", fmt.Errorf("loading owner %d: %w", ownerID, err)
	}
	return a.refresh(ctx, ownerID)
}

func (a *Aggregator) refresh(ctx context.Context, ownerID int64) (string, error) {
	total, err := a.store.CountDishes(ownerID)
	if err != nil {
		return "", fmt.Errorf("counting dishes: %w", err)
	}

	text := a.messages.DefaultProfile
	if total > 0 {
		sample, err := a.store.RecentDishes(ownerID, SampleSize)
		if err != nil {
			return "", fmt.Errorf("loading dishes: %w", err)
		}
		out, err := a.writer.Write(ctx, Summarize(total, sample))
		if err != nil {
			return "", fmt.Errorf("writing profile: %w", err)
		}
		text = clampWords(out, analysis.MaxProfileWords)
	}

	if err := a.store.SetEatingProfile(ownerID, text); err != nil {
		return "", fmt.Errorf("saving profile: %w", err)
	}
	return text, nil
}

// JobRefreshProfiles carries an optional {"owner_id": n}; without it every
// owner is refreshed.
const JobRefreshProfiles = "refresh_profiles"

type refreshPayload struct {
	OwnerID int64 `json:"owner_id,omitempty"`
}

// HandleJob processes a refresh_profiles job payload.
func (a *Aggregator) HandleJob(ctx context.Context, payload []byte) error {
	var p refreshPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
	}
	if p.OwnerID > 0 {
		_, err := a.RefreshOwner(ctx, p.OwnerID)
		if errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn("owner not found, skipping profile refresh", "owner_id", p.OwnerID)
			return nil
		}
		return err
	}
	a.Run(ctx)
	return ctx.Err()
}
