package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const ownerColumns = `id, name, email, eating_profile, profile_updated_at, created_at, updated_at`

func scanOwner(row rowScanner) (Owner, error) {
	var o Owner
	var profileUpdatedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&o.ID, &o.Name, &o.Email, &o.EatingProfile, &profileUpdatedAt, &createdAt, &updatedAt); err != nil {
		return Owner{}, err
	}
	var err error
	if profileUpdatedAt.Valid {
		if o.ProfileUpdatedAt, err = parseTime(profileUpdatedAt.String); err != nil {
			return Owner{}, fmt.Errorf("parsing profile_updated_at: %w", err)
		}
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return Owner{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Owner{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return o, nil
}

func (s *Store) CreateOwner(o Owner) (Owner, error) {
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	res, err := s.db.Exec(`INSERT INTO owners (name, email, eating_profile, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		o.Name, o.Email, o.EatingProfile, formatTime(now), formatTime(now))
	if err != nil {
		return Owner{}, err
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return Owner{}, err
	}
	return o, nil
}

func (s *Store) GetOwner(id int64) (Owner, error) {
	o, err := scanOwner(s.db.QueryRow(`SELECT `+ownerColumns+` FROM owners WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Owner{}, ErrNotFound
	}
	return o, err
}

// SetEatingProfile stores the derived profile text for an owner.
func (s *Store) SetEatingProfile(id int64, profile string) error {
	now := formatTime(time.Now())
	res, err := s.db.Exec(`UPDATE owners SET eating_profile = ?, profile_updated_at = ?, updated_at = ? WHERE id = ?`,
		profile, now, now, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// OwnersWithDishes returns up to limit owners with at least one dish and an
// ID greater than afterID, in ID order.
func (s *Store) OwnersWithDishes(afterID int64, limit int) ([]Owner, error) {
	rows, err := s.db.Query(`SELECT `+ownerColumns+` FROM owners o
		WHERE o.id > ? AND EXISTS (SELECT 1 FROM dishes d WHERE d.owner_id = o.id)
		ORDER BY o.id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []Owner
	for rows.Next() {
		o, err := scanOwner(rows)
		if err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}
