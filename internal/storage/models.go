package storage

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Pairing is a single drink or side suggestion attached to a dish.
type Pairing struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	EasterEgg   bool   `json:"is_easter_egg"`
}

type Dish struct {
	ID              int64
	OwnerID         int64 // 0 when the dish has no owner
	Name            string
	Description     string
	DishType        string
	CulturalContext string
	Pairings        []Pairing
	Favorite        bool
	UserNotes       string
	ImageKey        string
	ImageType       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SearchID returns the key of the dish's search index entry.
func (d Dish) SearchID() int64 { return d.ID }

// SearchableText returns the indexed columns of the dish.
func (d Dish) SearchableText() map[string]string {
	return map[string]string{
		"name":         d.Name,
		"description":  d.Description,
		"dish_type":    d.DishType,
		"pairing_text": d.PairingText(),
	}
}

// PairingText flattens the pairing suggestions into one space separated
// string of names and descriptions, skipping empty values.
func (d Dish) PairingText() string {
	parts := make([]string, 0, len(d.Pairings)*2)
	for _, p := range d.Pairings {
		if p.Name != "" {
			parts = append(parts, p.Name)
		}
		if p.Description != "" {
			parts = append(parts, p.Description)
		}
	}
	return strings.Join(parts, " ")
}

// DishAnalysis holds the fields the enrichment worker writes back onto a dish.
type DishAnalysis struct {
	Name            string
	Description     string
	DishType        string
	CulturalContext string
	Pairings        []Pairing
}

// DishQuery filters dish listings. A zero OwnerID lists every owner.
type DishQuery struct {
	OwnerID       int64
	FavoritesOnly bool
	Limit         int
	Offset        int
}

type Owner struct {
	ID               int64
	Name             string
	Email            string
	EatingProfile    string
	ProfileUpdatedAt time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
