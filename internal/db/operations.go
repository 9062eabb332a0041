package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Queued Operation Operations
// =============================================================================

const operationColumns = `seq, id, account, kind, payload, enqueued_at, retry_count`

// InsertOperation appends an operation to the end of the queue and sets row.Seq
func (tx *Tx) InsertOperation(row *OperationRow) error {
	query := `
		INSERT INTO queued_operations (id, account, kind, payload, enqueued_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := tx.Exec(query, row.ID, row.Account, row.Kind, row.Payload, row.EnqueuedAt.UnixNano(), row.RetryCount)
	if err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return err
	}
	row.Seq = seq

	return nil
}

// CountOperations returns the number of queued operations within a transaction
func (tx *Tx) CountOperations() (int, error) {
	var count int
	err := tx.QueryRow(`SELECT COUNT(*) FROM queued_operations`).Scan(&count)
	return count, err
}

// CountOperations returns the number of queued operations
func (db *DB) CountOperations() (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM queued_operations`).Scan(&count)
	return count, err
}

// GetOperation retrieves a queued operation by ID
func (db *DB) GetOperation(id string) (*OperationRow, error) {
	query := `SELECT ` + operationColumns + ` FROM queued_operations WHERE id = ?`

	row, err := scanOperation(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return row, nil
}

// ListOperations returns every queued operation in insertion order
func (db *DB) ListOperations() ([]OperationRow, error) {
	query := `SELECT ` + operationColumns + ` FROM queued_operations ORDER BY seq`
	return db.queryOperations(query)
}

// ListOperationsByAccount returns one account's queued operations in insertion order
func (db *DB) ListOperationsByAccount(account string) ([]OperationRow, error) {
	query := `SELECT ` + operationColumns + ` FROM queued_operations WHERE account = ? ORDER BY seq`
	return db.queryOperations(query, account)
}

// DeleteOperation removes a queued operation. Deleting an absent ID is not an error;
// the returned bool reports whether a row was removed.
func (db *DB) DeleteOperation(id string) (bool, error) {
	result, err := db.Exec(`DELETE FROM queued_operations WHERE id = ?`, id)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// IncrementRetryCount bumps retry_count and returns the new value.
// Returns ErrNotFound if the operation is absent.
func (tx *Tx) IncrementRetryCount(id string) (int, error) {
	result, err := tx.Exec(`UPDATE queued_operations SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, ErrNotFound
	}

	var count int
	if err := tx.QueryRow(`SELECT retry_count FROM queued_operations WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

func (db *DB) queryOperations(query string, args ...interface{}) ([]OperationRow, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := []OperationRow{}
	for rows.Next() {
		row, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ops, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(s rowScanner) (*OperationRow, error) {
	var row OperationRow
	var enqueuedAt int64

	err := s.Scan(
		&row.Seq,
		&row.ID,
		&row.Account,
		&row.Kind,
		&row.Payload,
		&enqueuedAt,
		&row.RetryCount,
	)
	if err != nil {
		return nil, err
	}

	row.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	return &row, nil
}
