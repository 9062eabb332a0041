package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Account Snapshot Operations
// =============================================================================

// UpsertSnapshot stores the confirmed state for an address, replacing any previous one
func (db *DB) UpsertSnapshot(row *SnapshotRow) error {
	query := `
		INSERT INTO account_snapshots (address, staked_amount, rewards_accrued, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			staked_amount = excluded.staked_amount,
			rewards_accrued = excluded.rewards_accrued,
			last_updated = excluded.last_updated
	`

	_, err := db.Exec(query, row.Address, row.StakedAmount, row.RewardsAccrued, row.LastUpdated.UnixNano())
	return err
}

// GetSnapshot retrieves the cached snapshot for an address
func (db *DB) GetSnapshot(address string) (*SnapshotRow, error) {
	query := `
		SELECT address, staked_amount, rewards_accrued, last_updated
		FROM account_snapshots
		WHERE address = ?
	`

	var row SnapshotRow
	var lastUpdated int64
	err := db.QueryRow(query, address).Scan(&row.Address, &row.StakedAmount, &row.RewardsAccrued, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	row.LastUpdated = time.Unix(0, lastUpdated).UTC()
	return &row, nil
}
