package profile

import (
	"strings"

	"github.com/kalambet/dishdex/internal/analysis"
	"github.com/kalambet/dishdex/internal/storage"
)

const (
	// SampleSize bounds how many recent dishes feed a profile.
	SampleSize = 20
	// RecentCount is how many of the sampled dishes are listed as recent.
	RecentCount = 5
)

// Summarize builds profile input from total, the owner's dish count, and
// sample, their most recent dishes newest first. Type counts and favorites
// come from the sample only.
func Summarize(total int, sample []storage.Dish) analysis.ProfileStats {
	if len(sample) > SampleSize {
		sample = sample[:SampleSize]
	}
	s := analysis.ProfileStats{
		TotalDishes: total,
		DishTypes:   make(map[string]int),
		Favorites:   []analysis.DishRef{},
		Recent:      []analysis.DishRef{},
	}
	for i, d := range sample {
		ref := analysis.DishRef{Name: d.Name, DishType: d.DishType}
		if t := strings.TrimSpace(d.DishType); t != "" {
			s.DishTypes[t]++
		}
		if d.Favorite {
			s.Favorites = append(s.Favorites, ref)
		}
		if i < RecentCount {
			s.Recent = append(s.Recent, ref)
		}
	}
	return s
}

// clampWords cuts text to at most n words.
func clampWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.TrimRight(strings.Join(words[:n], " "), ",;:")
}
