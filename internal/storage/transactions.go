package storage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SaveTransactions inserts a batch of transactions in a single database
// transaction. Either every row lands or none do.
func (s *Store) SaveTransactions(txns []Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO transactions
			(id, fund_id, document_id, type, txn_date, amount, description,
			 distribution_type, is_recallable, adjustment_type, category, is_contribution_adjustment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, t := range txns {
		date := ""
		if !t.Date.IsZero() {
			date = t.Date.UTC().Format(time.RFC3339)
		}
		createdAt := now
		if !t.CreatedAt.IsZero() {
			createdAt = t.CreatedAt.UTC().Format(time.RFC3339)
		}
		if _, err := stmt.Exec(
			t.ID, t.FundID, t.DocumentID, t.Type, date, t.Amount.String(), t.Description,
			t.DistributionType, boolToInt(t.IsRecallable),
			t.AdjustmentType, t.Category, boolToInt(t.IsContributionAdjustment),
			createdAt,
		); err != nil {
			return fmt.Errorf("inserting transaction %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// ListTransactionsByFund returns all transactions for a fund ordered by date.
// Undated rows sort first.
func (s *Store) ListTransactionsByFund(fundID string) ([]Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, fund_id, document_id, type, txn_date, amount, description,
		       distribution_type, is_recallable, adjustment_type, category, is_contribution_adjustment, created_at
		FROM transactions WHERE fund_id = ?
		ORDER BY txn_date ASC, created_at ASC`, fundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// DeleteTransactionsByDocument removes every transaction a document produced.
// Used to roll back a partially processed document.
func (s *Store) DeleteTransactionsByDocument(documentID string) error {
	_, err := s.db.Exec(`DELETE FROM transactions WHERE document_id = ?`, documentID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(rows rowScanner) (Transaction, error) {
	var t Transaction
	var date, amount, createdAt string
	var recallable, contribAdj int
	if err := rows.Scan(
		&t.ID, &t.FundID, &t.DocumentID, &t.Type, &date, &amount, &t.Description,
		&t.DistributionType, &recallable, &t.AdjustmentType, &t.Category, &contribAdj, &createdAt,
	); err != nil {
		return Transaction{}, err
	}

	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, fmt.Errorf("parsing amount for transaction %s: %w", t.ID, err)
	}
	if date != "" {
		if t.Date, err = time.Parse(time.RFC3339, date); err != nil {
			return Transaction{}, fmt.Errorf("parsing date for transaction %s: %w", t.ID, err)
		}
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Transaction{}, fmt.Errorf("parsing created_at for transaction %s: %w", t.ID, err)
	}
	t.IsRecallable = recallable != 0
	t.IsContributionAdjustment = contribAdj != 0
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
