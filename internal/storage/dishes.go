package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Parse(time.RFC3339, v)
	}
	return t, nil
}

func nullOwner(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func encodePairings(p []Pairing) (string, error) {
	if p == nil {
		p = []Pairing{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding pairings: %w", err)
	}
	return string(b), nil
}

const dishColumns = `id, owner_id, name, description, dish_type, cultural_context, pairing_suggestions,
	favorite, user_notes, image_key, image_type, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDish(row rowScanner) (Dish, error) {
	var d Dish
	var ownerID sql.NullInt64
	var pairings, createdAt, updatedAt string
	err := row.Scan(&d.ID, &ownerID, &d.Name, &d.Description, &d.DishType, &d.CulturalContext,
		&pairings, &d.Favorite, &d.UserNotes, &d.ImageKey, &d.ImageType, &createdAt, &updatedAt)
	if err != nil {
		return Dish{}, err
	}
	d.OwnerID = ownerID.Int64
	if err := json.Unmarshal([]byte(pairings), &d.Pairings); err != nil {
		return Dish{}, fmt.Errorf("decoding pairings for dish %d: %w", d.ID, err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Dish{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Dish{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}

func scanDishes(rows *sql.Rows) ([]Dish, error) {
	defer rows.Close()
	var dishes []Dish
	for rows.Next() {
		d, err := scanDish(rows)
		if err != nil {
			return nil, err
		}
		dishes = append(dishes, d)
	}
	return dishes, rows.Err()
}

// CreateDish inserts d and returns it with its assigned ID and timestamps.
func (s *Store) CreateDish(d Dish) (Dish, error) {
	pairings, err := encodePairings(d.Pairings)
	if err != nil {
		return Dish{}, err
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	res, err := s.db.Exec(`
		INSERT INTO dishes (owner_id, name, description, dish_type, cultural_context, pairing_suggestions,
			favorite, user_notes, image_key, image_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullOwner(d.OwnerID), d.Name, d.Description, d.DishType, d.CulturalContext, pairings,
		d.Favorite, d.UserNotes, d.ImageKey, d.ImageType, formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return Dish{}, err
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return Dish{}, err
	}
	if d.Pairings == nil {
		d.Pairings = []Pairing{}
	}
	return d, nil
}

func (s *Store) GetDish(id int64) (Dish, error) {
	d, err := scanDish(s.db.QueryRow(`SELECT `+dishColumns+` FROM dishes WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Dish{}, ErrNotFound
	}
	return d, err
}

// UpdateDish replaces every mutable field of the dish with the values in d.
func (s *Store) UpdateDish(d Dish) (Dish, error) {
	pairings, err := encodePairings(d.Pairings)
	if err != nil {
		return Dish{}, err
	}
	res, err := s.db.Exec(`
		UPDATE dishes SET owner_id = ?, name = ?, description = ?, dish_type = ?, cultural_context = ?,
			pairing_suggestions = ?, favorite = ?, user_notes = ?, image_key = ?, image_type = ?, updated_at = ?
		WHERE id = ?`,
		nullOwner(d.OwnerID), d.Name, d.Description, d.DishType, d.CulturalContext, pairings,
		d.Favorite, d.UserNotes, d.ImageKey, d.ImageType, formatTime(time.Now()), d.ID,
	)
	if err != nil {
		return Dish{}, err
	}
	if err := expectOneRow(res); err != nil {
		return Dish{}, err
	}
	return s.GetDish(d.ID)
}

// ApplyAnalysis writes an analysis result onto the dish. The name is only
// replaced while the current name is empty or equal to placeholder.
func (s *Store) ApplyAnalysis(id int64, placeholder string, a DishAnalysis) (Dish, error) {
	pairings, err := encodePairings(a.Pairings)
	if err != nil {
		return Dish{}, err
	}
	res, err := s.db.Exec(`
		UPDATE dishes SET
			name = CASE WHEN ? != '' AND (name = '' OR name = ?) THEN ? ELSE name END,
			description = ?, dish_type = ?, cultural_context = ?, pairing_suggestions = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, placeholder, a.Name,
		a.Description, a.DishType, a.CulturalContext, pairings, formatTime(time.Now()), id,
	)
	if err != nil {
		return Dish{}, err
	}
	if err := expectOneRow(res); err != nil {
		return Dish{}, err
	}
	return s.GetDish(id)
}

// MarkAnalysisUnavailable stores a fallback description and clears the
// pairing suggestions. Other fields are left untouched.
func (s *Store) MarkAnalysisUnavailable(id int64, description string) (Dish, error) {
	res, err := s.db.Exec(`UPDATE dishes SET description = ?, pairing_suggestions = '[]', updated_at = ? WHERE id = ?`,
		description, formatTime(time.Now()), id)
	if err != nil {
		return Dish{}, err
	}
	if err := expectOneRow(res); err != nil {
		return Dish{}, err
	}
	return s.GetDish(id)
}

// ToggleFavorite flips the favorite flag and returns the updated dish.
func (s *Store) ToggleFavorite(id int64) (Dish, error) {
	res, err := s.db.Exec(`UPDATE dishes SET favorite = 1 - favorite, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return Dish{}, err
	}
	if err := expectOneRow(res); err != nil {
		return Dish{}, err
	}
	return s.GetDish(id)
}

func (s *Store) DeleteDish(id int64) error {
	res, err := s.db.Exec(`DELETE FROM dishes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// ListDishes returns dishes newest first.
func (s *Store) ListDishes(q DishQuery) ([]Dish, error) {
	var where []string
	var args []any
	if q.OwnerID != 0 {
		where = append(where, "owner_id = ?")
		args = append(args, q.OwnerID)
	}
	if q.FavoritesOnly {
		where = append(where, "favorite = 1")
	}
	query := `SELECT ` + dishColumns + ` FROM dishes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return scanDishes(rows)
}

// DishesByID loads the given dishes. Missing IDs are absent from the result.
func (s *Store) DishesByID(ids []int64) (map[int64]Dish, error) {
	result := make(map[int64]Dish, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	placeholders := strings.Repeat(",?", len(ids)-1)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(`SELECT `+dishColumns+` FROM dishes WHERE id IN (?`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	dishes, err := scanDishes(rows)
	if err != nil {
		return nil, err
	}
	for _, d := range dishes {
		result[d.ID] = d
	}
	return result, nil
}

// DishesAfter returns up to limit dishes with an ID greater than afterID, in
// ID order. It is the paging primitive for full index rebuilds.
func (s *Store) DishesAfter(afterID int64, limit int) ([]Dish, error) {
	rows, err := s.db.Query(`SELECT `+dishColumns+` FROM dishes WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return scanDishes(rows)
}

// RecentDishes returns the owner's most recent dishes, newest first.
func (s *Store) RecentDishes(ownerID int64, limit int) ([]Dish, error) {
	rows, err := s.db.Query(`SELECT `+dishColumns+` FROM dishes WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	return scanDishes(rows)
}

// CountDishes counts the owner's dishes, or every dish when ownerID is 0.
func (s *Store) CountDishes(ownerID int64) (int, error) {
	var n int
	var err error
	if ownerID == 0 {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM dishes`).Scan(&n)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM dishes WHERE owner_id = ?`, ownerID).Scan(&n)
	}
	return n, err
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
