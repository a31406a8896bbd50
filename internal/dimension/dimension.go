// Package dimension maintains the temporally-versioned terminal history.
//
// Each snapshot is the complete observed terminal population at one
// instant. Applying it closes superseded versions one second before the
// snapshot time and opens successors at the snapshot time, so a
// terminal's history stays gap-consistent and non-overlapping. History
// is never physically deleted.
package dimension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openfraud/merlin/internal/domain"
	"github.com/openfraud/merlin/internal/metrics"
	"github.com/openfraud/merlin/internal/repository"
)

var (
	// ErrStaleSnapshot is returned when a snapshot's as-of time is not
	// after an affected entity's current open version. Writing it would
	// create overlapping intervals, which the store refuses to do.
	ErrStaleSnapshot = errors.New("snapshot is older than current open version")

	// ErrInvariantBreach is returned when the stored history already
	// violates the single-open-version invariant.
	ErrInvariantBreach = errors.New("multiple open versions for one terminal")
)

// Store applies snapshots to the terminal version history.
type Store struct {
	repo domain.Repository
}

// New creates a dimension store over a repository.
func New(repo domain.Repository) *Store {
	return &Store{repo: repo}
}

// ApplySnapshot merges one complete terminal snapshot observed at asOf.
//
// Terminals whose attributes differ from their current open version (or
// that have none) get the open version closed at asOf − 1s and a new
// open version starting at asOf. Terminals absent from the snapshot get
// their open version closed the same way and marked deleted, with no
// successor. Unchanged terminals produce no writes, which makes
// re-applying the same snapshot a no-op.
func (s *Store) ApplySnapshot(ctx context.Context, records []domain.TerminalRecord, asOf time.Time) error {
	asOf = asOf.UTC()
	closeAt := asOf.Add(-time.Second)

	open, err := s.repo.OpenTerminalVersions(ctx)
	if err != nil {
		return fmt.Errorf("load open versions: %w", err)
	}

	current := make(map[string]*domain.TerminalVersion, len(open))
	for _, v := range open {
		if _, dup := current[v.TerminalID]; dup {
			return fmt.Errorf("%w: %s", ErrInvariantBreach, v.TerminalID)
		}
		current[v.TerminalID] = v
	}

	var change domain.TerminalChangeSet
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		if rec.TerminalID == "" {
			return fmt.Errorf("%w: empty terminal id in snapshot", repository.ErrInvalidInput)
		}
		if seen[rec.TerminalID] {
			return fmt.Errorf("%w: terminal %s appears twice in snapshot", repository.ErrInvalidInput, rec.TerminalID)
		}
		seen[rec.TerminalID] = true

		cur := current[rec.TerminalID]
		if cur != nil && !cur.Deleted && cur.SameAttributes(rec) {
			continue
		}
		if cur != nil {
			if !asOf.After(cur.EffectiveFrom) {
				return fmt.Errorf("%w: terminal %s open since %s, snapshot as of %s",
					ErrStaleSnapshot, rec.TerminalID, cur.EffectiveFrom, asOf)
			}
			change.Closes = append(change.Closes, domain.TerminalClose{
				TerminalID:    cur.TerminalID,
				EffectiveFrom: cur.EffectiveFrom,
				CloseAt:       closeAt,
				Deleted:       false,
			})
		}
		change.Inserts = append(change.Inserts, &domain.TerminalVersion{
			TerminalID:    rec.TerminalID,
			Type:          rec.Type,
			City:          rec.City,
			Address:       rec.Address,
			EffectiveFrom: asOf,
			EffectiveTo:   domain.OpenEnded,
			Deleted:       false,
		})
	}

	// Terminals that vanished from the snapshot: close and mark deleted,
	// no successor until they reappear.
	for id, cur := range current {
		if seen[id] || cur.Deleted {
			continue
		}
		if !asOf.After(cur.EffectiveFrom) {
			return fmt.Errorf("%w: terminal %s open since %s, snapshot as of %s",
				ErrStaleSnapshot, id, cur.EffectiveFrom, asOf)
		}
		change.Closes = append(change.Closes, domain.TerminalClose{
			TerminalID:    cur.TerminalID,
			EffectiveFrom: cur.EffectiveFrom,
			CloseAt:       closeAt,
			Deleted:       true,
		})
	}

	if change.Empty() {
		slog.Debug("terminal snapshot unchanged", "as_of", asOf, "terminals", len(records))
		return nil
	}

	if err := s.repo.ApplyTerminalChanges(ctx, change); err != nil {
		return fmt.Errorf("apply terminal changes: %w", err)
	}

	metrics.VersionsClosed.Add(float64(len(change.Closes)))
	metrics.VersionsOpened.Add(float64(len(change.Inserts)))

	slog.Info("terminal snapshot applied",
		"as_of", asOf,
		"terminals", len(records),
		"closed", len(change.Closes),
		"opened", len(change.Inserts),
	)
	return nil
}

// CurrentAsOf returns the version active for a terminal at the given
// instant, or nil when there is none. A terminal never seen and one
// deleted at that time both resolve to nil; callers cannot tell the two
// apart from this call alone.
func (s *Store) CurrentAsOf(ctx context.Context, terminalID string, at time.Time) (*domain.TerminalVersion, error) {
	v, err := s.repo.TerminalVersionAt(ctx, terminalID, at.UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
