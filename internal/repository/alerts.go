package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openfraud/merlin/internal/domain"
)

// ReplaceDayAlerts removes all alerts for a business date and inserts the
// freshly computed set, in one transaction. Rebuilding a day twice with
// unchanged facts therefore never accumulates duplicates.
func (r *SQLRepository) ReplaceDayAlerts(ctx context.Context, day time.Time, alerts []*domain.FraudAlert) error {
	day = domain.DayOf(day)

	deleteQ := r.rebind(`DELETE FROM fraud_alerts WHERE business_date = ?`)
	insertQ := r.rebind(`
		INSERT INTO fraud_alerts (id, event_at, business_date, passport, full_name, phone, rule_type, trans_id, report_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteQ, day); err != nil {
			return err
		}
		for _, a := range alerts {
			if a.ID == "" {
				return fmt.Errorf("%w: alert id is required", ErrInvalidInput)
			}
			if _, err := tx.ExecContext(ctx, insertQ,
				a.ID, a.EventAt.UTC(), domain.DayOf(a.EventAt),
				a.Passport, a.FullName, a.Phone,
				string(a.RuleType), a.TransID, a.ReportAt.UTC(),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// AlertsForDay returns the alert mart rows for one business date.
func (r *SQLRepository) AlertsForDay(ctx context.Context, day time.Time) ([]*domain.FraudAlert, error) {
	query := `
		SELECT id, event_at, business_date, passport, full_name, phone, rule_type, trans_id, report_at
		FROM fraud_alerts
		WHERE business_date = ?
		ORDER BY event_at, rule_type, trans_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), domain.DayOf(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.FraudAlert
	for rows.Next() {
		var a domain.FraudAlert
		var passport, fullName, phone, transID sql.NullString
		var ruleType string
		if err := rows.Scan(
			&a.ID, &a.EventAt, &a.BusinessDate,
			&passport, &fullName, &phone, &ruleType, &transID, &a.ReportAt,
		); err != nil {
			return nil, err
		}
		a.Passport = passport.String
		a.FullName = fullName.String
		a.Phone = phone.String
		a.TransID = transID.String
		a.RuleType = domain.RuleType(ruleType)
		a.EventAt = a.EventAt.UTC()
		a.BusinessDate = a.BusinessDate.UTC()
		a.ReportAt = a.ReportAt.UTC()
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// AlertDates returns every distinct business date with at least one alert.
func (r *SQLRepository) AlertDates(ctx context.Context) ([]time.Time, error) {
	return r.queryDates(ctx, `SELECT DISTINCT business_date FROM fraud_alerts ORDER BY business_date`)
}

// FileProcessed reports whether a batch file was already merged.
func (r *SQLRepository) FileProcessed(ctx context.Context, filename string) (bool, error) {
	if filename == "" {
		return false, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}

	var one int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM load_files WHERE filename = ?`), filename).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkFileProcessed records a merged batch file and advances the source
// watermark.
func (r *SQLRepository) MarkFileProcessed(ctx context.Context, source string, fileDate time.Time, filename string) error {
	if source == "" || filename == "" {
		return fmt.Errorf("%w: source and filename are required", ErrInvalidInput)
	}

	fileDate = domain.DayOf(fileDate)
	now := time.Now().UTC()

	markQ := r.rebind(`
		INSERT INTO load_files (source, file_date, filename, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source, filename) DO NOTHING
	`)

	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, markQ, source, fileDate, filename, now); err != nil {
			return err
		}

		// Watermark only moves forward.
		var last sql.NullTime
		err := tx.QueryRowContext(ctx, r.rebind(`SELECT last_date FROM load_watermarks WHERE source = ?`), source).Scan(&last)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, r.rebind(`INSERT INTO load_watermarks (source, last_date) VALUES (?, ?)`), source, fileDate)
			return err
		case err != nil:
			return err
		case fileDate.After(last.Time):
			_, err = tx.ExecContext(ctx, r.rebind(`UPDATE load_watermarks SET last_date = ? WHERE source = ?`), fileDate, source)
			return err
		}
		return nil
	})
}

// LastFileDate returns the newest processed file date for a source, or
// nil when the source has never been loaded.
func (r *SQLRepository) LastFileDate(ctx context.Context, source string) (*time.Time, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: source is required", ErrInvalidInput)
	}

	var last time.Time
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT last_date FROM load_watermarks WHERE source = ?`), source).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	last = last.UTC()
	return &last, nil
}
