package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfraud/merlin/internal/domain"
	"github.com/openfraud/merlin/internal/repository"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return New(repo)
}

func TestLedgerRoundTrip(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	done, err := led.Processed(ctx, "transactions_01032026.txt")
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("unseen file reported processed")
	}

	if err := led.MarkProcessed(ctx, "transactions", "transactions_01032026.txt", day); err != nil {
		t.Fatal(err)
	}

	done, err = led.Processed(ctx, "transactions_01032026.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("marked file not reported processed")
	}

	// Re-marking the same file is a no-op.
	if err := led.MarkProcessed(ctx, "transactions", "transactions_01032026.txt", day); err != nil {
		t.Fatalf("re-mark failed: %v", err)
	}
}

func TestLedgerWatermark(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	last, err := led.LastDate(ctx, "terminals")
	if err != nil {
		t.Fatal(err)
	}
	if last != nil {
		t.Fatalf("expected nil watermark for unseen source, got %v", last)
	}

	day1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	if err := led.MarkProcessed(ctx, "terminals", "terminals_02032026.csv", day2); err != nil {
		t.Fatal(err)
	}
	// A late-arriving older file must not move the watermark back.
	if err := led.MarkProcessed(ctx, "terminals", "terminals_01032026.csv", day1); err != nil {
		t.Fatal(err)
	}

	last, err = led.LastDate(ctx, "terminals")
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || !last.Equal(day2) {
		t.Fatalf("expected watermark %v, got %v", day2, last)
	}

	// Watermarks are per source.
	other, err := led.LastDate(ctx, "blacklist")
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Fatalf("expected nil watermark for blacklist, got %v", other)
	}
}
