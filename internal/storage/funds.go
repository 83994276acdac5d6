package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SaveFund inserts a fund, or updates its name, commitment, and NAV if the
// ID already exists.
func (s *Store) SaveFund(f Fund) error {
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO funds (id, name, commitment, nav, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, commitment = excluded.commitment, nav = excluded.nav`,
		f.ID, f.Name, f.Commitment.String(), f.NAV.String(), createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetFund(id string) (Fund, error) {
	var f Fund
	var commitment, nav, createdAt string
	err := s.db.QueryRow(`
		SELECT id, name, commitment, nav, created_at FROM funds WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &commitment, &nav, &createdAt)
	if err == sql.ErrNoRows {
		return Fund{}, ErrNotFound
	}
	if err != nil {
		return Fund{}, err
	}
	if f.Commitment, err = decimal.NewFromString(commitment); err != nil {
		return Fund{}, fmt.Errorf("parsing commitment for fund %s: %w", id, err)
	}
	if f.NAV, err = decimal.NewFromString(nav); err != nil {
		return Fund{}, fmt.Errorf("parsing nav for fund %s: %w", id, err)
	}
	if f.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Fund{}, fmt.Errorf("parsing created_at for fund %s: %w", id, err)
	}
	return f, nil
}

func (s *Store) ListFunds() ([]Fund, error) {
	rows, err := s.db.Query(`SELECT id, name, commitment, nav, created_at FROM funds ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var funds []Fund
	for rows.Next() {
		var f Fund
		var commitment, nav, createdAt string
		if err := rows.Scan(&f.ID, &f.Name, &commitment, &nav, &createdAt); err != nil {
			return nil, err
		}
		if f.Commitment, err = decimal.NewFromString(commitment); err != nil {
			return nil, fmt.Errorf("parsing commitment for fund %s: %w", f.ID, err)
		}
		if f.NAV, err = decimal.NewFromString(nav); err != nil {
			return nil, fmt.Errorf("parsing nav for fund %s: %w", f.ID, err)
		}
		if f.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for fund %s: %w", f.ID, err)
		}
		funds = append(funds, f)
	}
	return funds, rows.Err()
}

// UpdateFundNAV sets the fund's current net asset value.
func (s *Store) UpdateFundNAV(id string, nav decimal.Decimal) error {
	res, err := s.db.Exec(`UPDATE funds SET nav = ? WHERE id = ?`, nav.String(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
