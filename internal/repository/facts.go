package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openfraud/merlin/internal/domain"
	"github.com/shopspring/decimal"
)

// InsertTransactions appends transaction facts, silently skipping ids
// already present, and returns the number of rows actually inserted.
// Facts are never updated.
func (r *SQLRepository) InsertTransactions(ctx context.Context, txs []*domain.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	query := r.rebind(`
		INSERT INTO transactions (trans_id, occurred_at, occurred_on, card_num, oper_type, amount, result, terminal_id, business_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trans_id) DO NOTHING
	`)

	inserted := 0
	err := r.inTx(ctx, func(dbTx *sql.Tx) error {
		for _, t := range txs {
			if t.ID == "" {
				return fmt.Errorf("%w: trans_id is required", ErrInvalidInput)
			}
			res, err := dbTx.ExecContext(ctx, query,
				t.ID, t.OccurredAt.UTC(), domain.DayOf(t.OccurredAt),
				t.CardNum, t.OperType, t.Amount.String(), t.Result,
				t.TerminalID, domain.DayOf(t.BusinessDate),
			)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// TransactionsBetween returns facts with from <= occurred_at < to,
// ordered by card and time.
func (r *SQLRepository) TransactionsBetween(ctx context.Context, from, to time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT trans_id, occurred_at, card_num, oper_type, amount, result, terminal_id, business_date
		FROM transactions
		WHERE occurred_at >= ? AND occurred_at < ?
		ORDER BY card_num, occurred_at, trans_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var amount string
		var terminalID, operType sql.NullString
		if err := rows.Scan(
			&t.ID, &t.OccurredAt, &t.CardNum, &operType,
			&amount, &t.Result, &terminalID, &t.BusinessDate,
		); err != nil {
			return nil, err
		}
		t.OperType = operType.String
		t.TerminalID = terminalID.String
		t.OccurredAt = t.OccurredAt.UTC()
		t.BusinessDate = t.BusinessDate.UTC()

		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("fact %s: bad amount %q: %w", t.ID, amount, err)
		}
		t.Amount = amt

		txs = append(txs, &t)
	}
	return txs, rows.Err()
}

// TransactionDates returns every distinct calendar date facts exist for.
func (r *SQLRepository) TransactionDates(ctx context.Context) ([]time.Time, error) {
	return r.queryDates(ctx, `SELECT DISTINCT occurred_on FROM transactions ORDER BY occurred_on`)
}

func (r *SQLRepository) queryDates(ctx context.Context, query string) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d.UTC())
	}
	return dates, rows.Err()
}
