// Package ingest loads reference and fact data into the store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openfraud/merlin/internal/domain"
	"github.com/openfraud/merlin/internal/metrics"
	"github.com/openfraud/merlin/internal/repository"
)

// Service validates and persists incoming batches.
type Service struct {
	repo domain.Repository
}

func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// AppendTransactions normalizes results, stamps business dates and
// appends the batch. Rows whose trans_id already exists are silently
// skipped; the fact store is append-only and never updated in place.
// Returns the number of rows actually inserted.
func (s *Service) AppendTransactions(ctx context.Context, txs []*domain.Transaction, businessDate time.Time) (int, error) {
	businessDate = domain.DayOf(businessDate)
	for i, t := range txs {
		if t.ID == "" {
			return 0, fmt.Errorf("%w: transaction %d has empty trans_id", repository.ErrInvalidInput, i)
		}
		if t.CardNum == "" {
			return 0, fmt.Errorf("%w: transaction %s has empty card_num", repository.ErrInvalidInput, t.ID)
		}
		t.Result = domain.NormalizeResult(t.Result)
		t.OccurredAt = t.OccurredAt.UTC()
		t.BusinessDate = businessDate
	}

	inserted, err := s.repo.InsertTransactions(ctx, txs)
	if err != nil {
		return 0, fmt.Errorf("insert transactions: %w", err)
	}

	dup := len(txs) - inserted
	metrics.FactsMerged.Add(float64(inserted))
	metrics.FactsDuplicate.Add(float64(dup))
	slog.Info("transactions appended",
		"business_date", businessDate.Format("2006-01-02"),
		"received", len(txs),
		"inserted", inserted,
		"duplicates", dup,
	)
	return inserted, nil
}

// MergeBlacklist adds passport blacklist entries, ignoring duplicates.
// Entry dates are truncated to day precision.
func (s *Service) MergeBlacklist(ctx context.Context, entries []*domain.BlacklistEntry) error {
	for i, e := range entries {
		if e.PassportNum == "" {
			return fmt.Errorf("%w: blacklist entry %d has empty passport_num", repository.ErrInvalidInput, i)
		}
	}
	if err := s.repo.MergeBlacklist(ctx, entries); err != nil {
		return fmt.Errorf("merge blacklist: %w", err)
	}
	slog.Info("blacklist merged", "entries", len(entries))
	return nil
}

// UpsertReference refreshes the card, account and client mirrors.
// These are current-state tables; no history is retained.
func (s *Service) UpsertReference(ctx context.Context, cards []*domain.Card, accounts []*domain.Account, clients []*domain.Client) error {
	if len(cards) > 0 {
		if err := s.repo.UpsertCards(ctx, cards); err != nil {
			return fmt.Errorf("upsert cards: %w", err)
		}
	}
	if len(accounts) > 0 {
		if err := s.repo.UpsertAccounts(ctx, accounts); err != nil {
			return fmt.Errorf("upsert accounts: %w", err)
		}
	}
	if len(clients) > 0 {
		if err := s.repo.UpsertClients(ctx, clients); err != nil {
			return fmt.Errorf("upsert clients: %w", err)
		}
	}
	slog.Info("reference data upserted",
		"cards", len(cards), "accounts", len(accounts), "clients", len(clients))
	return nil
}
