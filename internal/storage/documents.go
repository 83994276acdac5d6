package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveDocument inserts a new document record in the "processing" state.
func (s *Store) SaveDocument(d Document) error {
	now := time.Now().UTC()
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	status := d.Status
	if status == "" {
		status = DocProcessing
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, fund_id, filename, format, status, progress, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.FundID, d.Filename, d.Format, status, d.Progress, d.Error,
		createdAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, fund_id, filename, format, status, progress, error, created_at, updated_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.FundID, &d.Filename, &d.Format, &d.Status, &d.Progress, &d.Error, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at for document %s: %w", id, err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Document{}, fmt.Errorf("parsing updated_at for document %s: %w", id, err)
	}
	return d, nil
}

// SetDocumentProgress records pipeline progress for a document still processing.
func (s *Store) SetDocumentProgress(id string, progress int) error {
	return s.updateDocument(id, DocProcessing, progress, "")
}

// CompleteDocument marks a document as fully processed.
func (s *Store) CompleteDocument(id string) error {
	return s.updateDocument(id, DocCompleted, 100, "")
}

// FailDocument marks a document as failed, keeping its last reported progress.
func (s *Store) FailDocument(id string, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		DocFailed, errMsg, now, id)
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

func (s *Store) updateDocument(id, status string, progress int, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE documents SET status = ?, progress = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, progress, errMsg, now, id)
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

func (s *Store) ListDocumentsByFund(fundID string) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, fund_id, filename, format, status, progress, error, created_at, updated_at
		FROM documents WHERE fund_id = ? ORDER BY created_at ASC`, fundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var createdAt, updatedAt string
		if err := rows.Scan(&d.ID, &d.FundID, &d.Filename, &d.Format, &d.Status, &d.Progress, &d.Error, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for document %s: %w", d.ID, err)
		}
		if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for document %s: %w", d.ID, err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
