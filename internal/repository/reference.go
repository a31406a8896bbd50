package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openfraud/merlin/internal/domain"
)

// Reference dimension upserts are expressed as explicit insert-if-absent,
// update-if-changed logic with field-wise comparison done in Go, so the
// same code runs on both engines without relying on dialect-specific
// conflict clauses. Unchanged rows are not rewritten.

// UpsertCards merges a card → account mapping batch.
func (r *SQLRepository) UpsertCards(ctx context.Context, cards []*domain.Card) error {
	if len(cards) == 0 {
		return nil
	}

	selectQ := r.rebind(`SELECT account_num FROM cards WHERE card_num = ?`)
	insertQ := r.rebind(`INSERT INTO cards (card_num, account_num, created_at) VALUES (?, ?, ?)`)
	updateQ := r.rebind(`UPDATE cards SET account_num = ?, updated_at = ? WHERE card_num = ?`)

	now := time.Now().UTC()

	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range cards {
			if c.CardNum == "" {
				return fmt.Errorf("%w: card_num is required", ErrInvalidInput)
			}

			var existing string
			err := tx.QueryRowContext(ctx, selectQ, c.CardNum).Scan(&existing)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if _, err := tx.ExecContext(ctx, insertQ, c.CardNum, c.AccountNum, now); err != nil {
					return err
				}
			case err != nil:
				return err
			case existing != c.AccountNum:
				if _, err := tx.ExecContext(ctx, updateQ, c.AccountNum, now, c.CardNum); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// UpsertAccounts merges an account contract batch.
func (r *SQLRepository) UpsertAccounts(ctx context.Context, accounts []*domain.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	selectQ := r.rebind(`SELECT valid_to, client_id FROM accounts WHERE account_num = ?`)
	insertQ := r.rebind(`INSERT INTO accounts (account_num, valid_to, client_id, created_at) VALUES (?, ?, ?, ?)`)
	updateQ := r.rebind(`UPDATE accounts SET valid_to = ?, client_id = ?, updated_at = ? WHERE account_num = ?`)

	now := time.Now().UTC()

	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, a := range accounts {
			if a.AccountNum == "" {
				return fmt.Errorf("%w: account_num is required", ErrInvalidInput)
			}

			var validTo sql.NullTime
			var clientID sql.NullString
			err := tx.QueryRowContext(ctx, selectQ, a.AccountNum).Scan(&validTo, &clientID)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if _, err := tx.ExecContext(ctx, insertQ, a.AccountNum, nullTime(a.ValidTo), a.ClientID, now); err != nil {
					return err
				}
			case err != nil:
				return err
			case !sameTime(validTo, a.ValidTo) || clientID.String != a.ClientID:
				if _, err := tx.ExecContext(ctx, updateQ, nullTime(a.ValidTo), a.ClientID, now, a.AccountNum); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// UpsertClients merges a client identity batch.
func (r *SQLRepository) UpsertClients(ctx context.Context, clients []*domain.Client) error {
	if len(clients) == 0 {
		return nil
	}

	selectQ := r.rebind(`
		SELECT last_name, first_name, patronymic, date_of_birth, passport_num, passport_valid_to, phone
		FROM clients WHERE client_id = ?
	`)
	insertQ := r.rebind(`
		INSERT INTO clients (client_id, last_name, first_name, patronymic, date_of_birth,
			passport_num, passport_valid_to, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	updateQ := r.rebind(`
		UPDATE clients
		SET last_name = ?, first_name = ?, patronymic = ?, date_of_birth = ?,
			passport_num = ?, passport_valid_to = ?, phone = ?, updated_at = ?
		WHERE client_id = ?
	`)

	now := time.Now().UTC()

	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range clients {
			if c.ClientID == "" {
				return fmt.Errorf("%w: client_id is required", ErrInvalidInput)
			}

			var last, first, patronymic, passport, phone sql.NullString
			var dob, passportValidTo sql.NullTime
			err := tx.QueryRowContext(ctx, selectQ, c.ClientID).Scan(
				&last, &first, &patronymic, &dob, &passport, &passportValidTo, &phone,
			)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if _, err := tx.ExecContext(ctx, insertQ,
					c.ClientID, c.LastName, c.FirstName, c.Patronymic, nullTime(c.DateOfBirth),
					c.PassportNum, nullTime(c.PassportValidTo), c.Phone, now,
				); err != nil {
					return err
				}
			case err != nil:
				return err
			case last.String != c.LastName || first.String != c.FirstName ||
				patronymic.String != c.Patronymic || !sameTime(dob, c.DateOfBirth) ||
				passport.String != c.PassportNum || !sameTime(passportValidTo, c.PassportValidTo) ||
				phone.String != c.Phone:
				if _, err := tx.ExecContext(ctx, updateQ,
					c.LastName, c.FirstName, c.Patronymic, nullTime(c.DateOfBirth),
					c.PassportNum, nullTime(c.PassportValidTo), c.Phone, now, c.ClientID,
				); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// CardContext resolves the card → account → client join for one card.
func (r *SQLRepository) CardContext(ctx context.Context, cardNum string) (*domain.ClientContext, error) {
	if cardNum == "" {
		return nil, fmt.Errorf("%w: cardNum is required", ErrInvalidInput)
	}

	query := `
		SELECT c.card_num, c.account_num, a.valid_to, cl.client_id,
			   cl.last_name, cl.first_name, cl.patronymic,
			   cl.passport_num, cl.passport_valid_to, cl.phone
		FROM cards c
		JOIN accounts a ON a.account_num = c.account_num
		JOIN clients cl ON cl.client_id = a.client_id
		WHERE c.card_num = ?
	`

	var cc domain.ClientContext
	var accountValidTo, passportValidTo sql.NullTime
	var last, first, patronymic, passport, phone sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), cardNum).Scan(
		&cc.CardNum, &cc.AccountNum, &accountValidTo, &cc.ClientID,
		&last, &first, &patronymic, &passport, &passportValidTo, &phone,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	client := domain.Client{LastName: last.String, FirstName: first.String, Patronymic: patronymic.String}
	cc.FullName = client.FullName()
	cc.PassportNum = passport.String
	cc.Phone = phone.String
	cc.AccountValidTo = timePtr(accountValidTo)
	cc.PassportValidTo = timePtr(passportValidTo)

	return &cc, nil
}

// MergeBlacklist inserts blacklist entries, ignoring known ones.
func (r *SQLRepository) MergeBlacklist(ctx context.Context, entries []*domain.BlacklistEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := r.rebind(`
		INSERT INTO passport_blacklist (passport_num, entry_dt)
		VALUES (?, ?)
		ON CONFLICT (passport_num, entry_dt) DO NOTHING
	`)

	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			if e.PassportNum == "" {
				return fmt.Errorf("%w: passport_num is required", ErrInvalidInput)
			}
			if _, err := tx.ExecContext(ctx, query, e.PassportNum, domain.DayOf(e.EntryDate)); err != nil {
				return err
			}
		}
		return nil
	})
}

// BlacklistEarliest returns, per passport, the earliest blacklist entry
// date among the requested passports. The minimum is computed here over
// bare entry_dt rows: an aggregate expression column has no declared
// type, so the sqlite driver would hand it back as a string instead of
// a time.Time.
func (r *SQLRepository) BlacklistEarliest(ctx context.Context, passports []string) (map[string]time.Time, error) {
	earliest := make(map[string]time.Time, len(passports))
	if len(passports) == 0 {
		return earliest, nil
	}

	query := `
		SELECT passport_num, entry_dt
		FROM passport_blacklist
		WHERE passport_num IN (` + placeholders(len(passports)) + `)
	`

	args := make([]any, len(passports))
	for i, p := range passports {
		args[i] = p
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var passport string
		var entry time.Time
		if err := rows.Scan(&passport, &entry); err != nil {
			return nil, err
		}
		entry = entry.UTC()
		if cur, ok := earliest[passport]; !ok || entry.Before(cur) {
			earliest[passport] = entry
		}
	}
	return earliest, rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func sameTime(a sql.NullTime, b *time.Time) bool {
	if !a.Valid {
		return b == nil
	}
	return b != nil && a.Time.UTC().Equal(b.UTC())
}
