package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openfraud/merlin/internal/domain"
)

const terminalVersionColumns = `terminal_id, terminal_type, city, address, effective_from, effective_to, deleted`

// OpenTerminalVersions returns every terminal's current open version.
func (r *SQLRepository) OpenTerminalVersions(ctx context.Context) ([]*domain.TerminalVersion, error) {
	query := `
		SELECT ` + terminalVersionColumns + `
		FROM terminal_versions
		WHERE effective_to = ?
		ORDER BY terminal_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), domain.OpenEnded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTerminalVersions(rows)
}

// ApplyTerminalChanges applies one snapshot's change set atomically.
func (r *SQLRepository) ApplyTerminalChanges(ctx context.Context, change domain.TerminalChangeSet) error {
	if change.Empty() {
		return nil
	}

	closeQuery := r.rebind(`
		UPDATE terminal_versions
		SET effective_to = ?, deleted = ?
		WHERE terminal_id = ? AND effective_from = ?
	`)
	insertQuery := r.rebind(`
		INSERT INTO terminal_versions (` + terminalVersionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range change.Closes {
			res, err := tx.ExecContext(ctx, closeQuery, c.CloseAt, boolToInt(c.Deleted), c.TerminalID, c.EffectiveFrom)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("close version %s@%s: %w", c.TerminalID, c.EffectiveFrom, ErrNotFound)
			}
		}
		for _, v := range change.Inserts {
			if _, err := tx.ExecContext(ctx, insertQuery,
				v.TerminalID, v.Type, v.City, v.Address,
				v.EffectiveFrom, v.EffectiveTo, boolToInt(v.Deleted),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// TerminalVersionAt returns the non-deleted version whose interval
// contains the given instant, or ErrNotFound. A never-seen terminal and
// one deleted at that time are indistinguishable here.
func (r *SQLRepository) TerminalVersionAt(ctx context.Context, terminalID string, at time.Time) (*domain.TerminalVersion, error) {
	if terminalID == "" {
		return nil, fmt.Errorf("%w: terminalID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + terminalVersionColumns + `
		FROM terminal_versions
		WHERE terminal_id = ?
		  AND deleted = 0
		  AND effective_from <= ?
		  AND effective_to >= ?
	`

	var v domain.TerminalVersion
	var deleted int

	err := r.db.QueryRowContext(ctx, r.rebind(query), terminalID, at, at).Scan(
		&v.TerminalID, &v.Type, &v.City, &v.Address,
		&v.EffectiveFrom, &v.EffectiveTo, &deleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	v.Deleted = deleted != 0
	return &v, nil
}

// TerminalHistories returns the full version history for each requested
// terminal, ordered by effective_from.
func (r *SQLRepository) TerminalHistories(ctx context.Context, terminalIDs []string) (map[string][]*domain.TerminalVersion, error) {
	histories := make(map[string][]*domain.TerminalVersion, len(terminalIDs))
	if len(terminalIDs) == 0 {
		return histories, nil
	}

	query := `
		SELECT ` + terminalVersionColumns + `
		FROM terminal_versions
		WHERE terminal_id IN (` + placeholders(len(terminalIDs)) + `)
		ORDER BY terminal_id, effective_from
	`

	args := make([]any, len(terminalIDs))
	for i, id := range terminalIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions, err := scanTerminalVersions(rows)
	if err != nil {
		return nil, err
	}

	for _, v := range versions {
		histories[v.TerminalID] = append(histories[v.TerminalID], v)
	}
	return histories, nil
}

func scanTerminalVersions(rows *sql.Rows) ([]*domain.TerminalVersion, error) {
	var versions []*domain.TerminalVersion
	for rows.Next() {
		var v domain.TerminalVersion
		var deleted int
		if err := rows.Scan(
			&v.TerminalID, &v.Type, &v.City, &v.Address,
			&v.EffectiveFrom, &v.EffectiveTo, &deleted,
		); err != nil {
			return nil, err
		}
		v.Deleted = deleted != 0
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
