package database

import (
	"context"
	"database/sql"
	"time"
)

// UpdateCheck is one run of the periodic update check.
type UpdateCheck struct {
	CheckedAt    time.Time
	ServerStatus string
	Version      string
	UpToDate     bool
	Error        string
}

// CheckHistory records update check outcomes.
type CheckHistory struct {
	db *sql.DB
}

// NewCheckHistory wraps an open database.
func NewCheckHistory(db *sql.DB) *CheckHistory {
	return &CheckHistory{db: db}
}

// Record appends a check and prunes entries older than 30 days.
func (h *CheckHistory) Record(ctx context.Context, check UpdateCheck) error {
	var errText sql.NullString
	if check.Error != "" {
		errText = sql.NullString{String: check.Error, Valid: true}
	}

	_, err := h.db.ExecContext(ctx, `
INSERT INTO update_checks (checked_at, server_status, version, up_to_date, error)
VALUES (?, ?, ?, ?, ?)`,
		check.CheckedAt.UTC().Unix(), check.ServerStatus, check.Version, check.UpToDate, errText)
	if err != nil {
		return err
	}

	cutoff := check.CheckedAt.Add(-30 * 24 * time.Hour).UTC().Unix()
	_, err = h.db.ExecContext(ctx, `DELETE FROM update_checks WHERE checked_at < ?`, cutoff)
	return err
}

// Recent returns up to limit checks, newest first.
func (h *CheckHistory) Recent(ctx context.Context, limit int) ([]UpdateCheck, error) {
	rows, err := h.db.QueryContext(ctx, `
SELECT checked_at, server_status, version, up_to_date, error
FROM update_checks
ORDER BY checked_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []UpdateCheck
	for rows.Next() {
		var c UpdateCheck
		var checkedAt int64
		var errText sql.NullString
		if err := rows.Scan(&checkedAt, &c.ServerStatus, &c.Version, &c.UpToDate, &errText); err != nil {
			return nil, err
		}
		c.CheckedAt = time.Unix(checkedAt, 0).UTC()
		c.Error = errText.String
		checks = append(checks, c)
	}
	return checks, rows.Err()
}
