package api

import (
	"time"

	"github.com/kalambet/dishdex/internal/catalog"
	"github.com/kalambet/dishdex/internal/storage"
)

// DishView is the JSON shape of a dish.
type DishView struct {
	ID              int64             `json:"id"`
	OwnerID         int64             `json:"owner_id,omitempty"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	DishType        string            `json:"dish_type"`
	CulturalContext string            `json:"cultural_context,omitempty"`
	Pairings        []storage.Pairing `json:"pairing_suggestions"`
	Favorite        bool              `json:"favorite"`
	UserNotes       string            `json:"user_notes,omitempty"`
	HasImage        bool              `json:"has_image"`
	Rank            float64           `json:"rank,omitempty"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

func dishView(d storage.Dish) DishView {
	pairings := d.Pairings
	if pairings == nil {
		pairings = []storage.Pairing{}
	}
	return DishView{
		ID:              d.ID,
		OwnerID:         d.OwnerID,
		Name:            d.Name,
		Description:     d.Description,
		DishType:        d.DishType,
		CulturalContext: d.CulturalContext,
		Pairings:        pairings,
		Favorite:        d.Favorite,
		UserNotes:       d.UserNotes,
		HasImage:        d.ImageKey != "",
		CreatedAt:       d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       d.UpdatedAt.Format(time.RFC3339),
	}
}

func dishViews(ds []storage.Dish) []DishView {
	out := make([]DishView, len(ds))
	for i, d := range ds {
		out[i] = dishView(d)
	}
	return out
}

func resultViews(rs []catalog.Result) []DishView {
	out := make([]DishView, len(rs))
	for i, r := range rs {
		out[i] = dishView(r.Dish)
		out[i].Rank = r.Rank
	}
	return out
}

// OwnerView is the JSON shape of an owner.
type OwnerView struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email,omitempty"`
	EatingProfile    string `json:"eating_profile"`
	ProfileUpdatedAt string `json:"profile_updated_at,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func ownerView(o storage.Owner) OwnerView {
	v := OwnerView{
		ID:            o.ID,
		Name:          o.Name,
		Email:         o.Email,
		EatingProfile: o.EatingProfile,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
	if !o.ProfileUpdatedAt.IsZero() {
		v.ProfileUpdatedAt = o.ProfileUpdatedAt.Format(time.RFC3339)
	}
	return v
}
