// Package ledger tracks which source files have been processed.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/openfraud/merlin/internal/domain"
)

// Ledger is a thin recording layer over the repository's load bookkeeping.
// A file is identified by (source, filename); marking is idempotent and the
// per-source date watermark only moves forward.
type Ledger struct {
	repo domain.Repository
}

func New(repo domain.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Processed reports whether the file was already loaded. Filenames are
// date-stamped by their producer, so the name alone identifies a batch.
func (l *Ledger) Processed(ctx context.Context, filename string) (bool, error) {
	done, err := l.repo.FileProcessed(ctx, filename)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", filename, err)
	}
	return done, nil
}

// MarkProcessed records the file and advances the source watermark if
// fileDate is newer than the current one.
func (l *Ledger) MarkProcessed(ctx context.Context, source, filename string, fileDate time.Time) error {
	if err := l.repo.MarkFileProcessed(ctx, source, domain.DayOf(fileDate), filename); err != nil {
		return fmt.Errorf("mark %s/%s: %w", source, filename, err)
	}
	return nil
}

// LastDate returns the most recent file date loaded for the source, or
// nil when nothing has been loaded yet.
func (l *Ledger) LastDate(ctx context.Context, source string) (*time.Time, error) {
	return l.repo.LastFileDate(ctx, source)
}
