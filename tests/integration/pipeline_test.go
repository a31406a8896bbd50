//go:build integration
// +build integration

// Package integration exercises the full batch cycle against a real
// SQLite store and a real inbox directory:
//
//	drop files → scanner → ingest/dimensions → fact store → rules → day report
//
// Run with: go test -tags=integration -v ./tests/integration/...
package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openfraud/merlin/internal/bus"
	"github.com/openfraud/merlin/internal/dimension"
	"github.com/openfraud/merlin/internal/domain"
	"github.com/openfraud/merlin/internal/inbox"
	"github.com/openfraud/merlin/internal/ingest"
	"github.com/openfraud/merlin/internal/ledger"
	"github.com/openfraud/merlin/internal/pipeline"
	"github.com/openfraud/merlin/internal/report"
	"github.com/openfraud/merlin/internal/repository"
	"github.com/openfraud/merlin/internal/rules"
)

type env struct {
	repo       domain.Repository
	runner     *pipeline.Runner
	ingest     *ingest.Service
	bus        *bus.ChannelBus
	inboxDir   string
	archiveDir string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "merlin.db")
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: dbPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	inboxDir := t.TempDir()
	archiveDir := t.TempDir()

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	ing := ingest.NewService(repo)
	dims := dimension.New(repo)
	engine := rules.NewEngine(repo, nil)
	mat := report.NewMaterializer(repo, engine, eventBus)
	scanner := inbox.NewScanner(inboxDir, archiveDir)
	led := ledger.New(repo)
	runner := pipeline.NewRunner(scanner, led, ing, dims, mat)

	return &env{
		repo:       repo,
		runner:     runner,
		ingest:     ing,
		bus:        eventBus,
		inboxDir:   inboxDir,
		archiveDir: archiveDir,
	}
}

func (e *env) drop(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.inboxDir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

// seedReference loads the client/account/card graph the drop files
// reference. Reference data arrives out of band, not through the inbox.
func seedReference(t *testing.T, e *env) {
	t.Helper()

	expired := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	valid := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	clients := []*domain.Client{
		{ClientID: "cl-1", LastName: "Ivanov", FirstName: "Petr", PassportNum: "4510 111111", PassportValidTo: &expired, Phone: "+79160000001"},
		{ClientID: "cl-2", LastName: "Petrova", FirstName: "Anna", PassportNum: "4510 222222", PassportValidTo: &valid, Phone: "+79160000002"},
		{ClientID: "cl-3", LastName: "Sidorov", FirstName: "Oleg", PassportNum: "4510 333333", PassportValidTo: &valid, Phone: "+79160000003"},
	}
	accounts := []*domain.Account{
		{AccountNum: "acc-1", ClientID: "cl-1"},
		{AccountNum: "acc-2", ClientID: "cl-2"},
		{AccountNum: "acc-3", ClientID: "cl-3"},
	}
	cards := []*domain.Card{
		{CardNum: "4276000000000001", AccountNum: "acc-1"},
		{CardNum: "4276000000000002", AccountNum: "acc-2"},
		{CardNum: "4276000000000003", AccountNum: "acc-3"},
	}
	if err := e.ingest.UpsertReference(context.Background(), cards, accounts, clients); err != nil {
		t.Fatalf("failed to seed reference data: %v", err)
	}
}

const terminalsFile = `terminal_id;terminal_type;terminal_city;terminal_address
A010;POS;Moscow;Tverskaya 1
A020;POS;Kazan;Bauman 5
A030;ATM;Moscow;Arbat 10
`

const blacklistFile = `date;passport
2026-02-15 00:00:00;4510 333333
`

// One business day of activity:
//   - tx-1: expired passport (cl-1)
//   - tx-2: blacklisted passport (cl-3)
//   - tx-3/tx-4: same card in Moscow then Kazan within an hour
const transactionsFile = `transaction_id;transaction_date;amount;card_num;oper_type;oper_result;terminal
tx-1;2026-03-01 09:15:00;1500,00;4276000000000001;PAYMENT;APPROVED;A010
tx-2;2026-03-01 10:30:00;200,50;4276000000000003;WITHDRAW;APPROVED;A030
tx-3;2026-03-01 12:00:00;700,00;4276000000000002;PAYMENT;APPROVED;A010
tx-4;2026-03-01 12:40:00;900,00;4276000000000002;PAYMENT;APPROVED;A020
`

func TestFullBatchCycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seedReference(t, e)

	var rebuilds atomic.Int32
	sub, err := e.bus.Subscribe(ctx, domain.TopicDayRebuilt, func(ctx context.Context, msg *domain.Message) error {
		rebuilds.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	e.drop(t, "terminals_01032026.csv", terminalsFile)
	e.drop(t, "passport_blacklist_01032026.csv", blacklistFile)
	e.drop(t, "transactions_01032026.txt", transactionsFile)

	res, err := e.runner.Run(ctx)
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	if res.FilesLoaded != 3 {
		t.Errorf("expected 3 files loaded, got %d", res.FilesLoaded)
	}
	if res.FilesSkipped != 0 {
		t.Errorf("expected 0 files skipped, got %d", res.FilesSkipped)
	}
	if res.DaysRebuilt != 1 {
		t.Errorf("expected 1 day rebuilt, got %d", res.DaysRebuilt)
	}

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	alerts, err := e.repo.AlertsForDay(ctx, day)
	if err != nil {
		t.Fatalf("failed to load alerts: %v", err)
	}

	byRule := make(map[domain.RuleType]int)
	for _, a := range alerts {
		byRule[a.RuleType]++
		if a.ID == "" || a.ReportAt.IsZero() {
			t.Errorf("alert %s/%s not fully stamped", a.RuleType, a.TransID)
		}
	}
	// cl-1 expired and cl-3 blacklisted both surface as passport alerts.
	if byRule[domain.RuleExpiredPassport] != 2 {
		t.Errorf("expected 2 passport alerts, got %d", byRule[domain.RuleExpiredPassport])
	}
	if byRule[domain.RuleCityHopping] != 1 {
		t.Errorf("expected 1 city-hopping alert, got %d", byRule[domain.RuleCityHopping])
	}
	if byRule[domain.RuleClosedAccount] != 0 || byRule[domain.RuleAmountGuessing] != 0 {
		t.Errorf("unexpected alerts: %v", byRule)
	}

	// Files must be archived with the processed suffix.
	for _, name := range []string{
		"terminals_01032026.csv",
		"passport_blacklist_01032026.csv",
		"transactions_01032026.txt",
	} {
		if _, err := os.Stat(filepath.Join(e.archiveDir, name+".backup")); err != nil {
			t.Errorf("expected archived %s.backup: %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(e.inboxDir, name)); !os.IsNotExist(err) {
			t.Errorf("expected %s removed from inbox", name)
		}
	}

	// Rebuild event was published for the processed day.
	deadline := time.Now().Add(2 * time.Second)
	for rebuilds.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rebuilds.Load() == 0 {
		t.Error("expected a day-rebuilt event on the bus")
	}
}

func TestRerunSkipsProcessedFiles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seedReference(t, e)

	e.drop(t, "terminals_01032026.csv", terminalsFile)
	e.drop(t, "transactions_01032026.txt", transactionsFile)

	if _, err := e.runner.Run(ctx); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Re-dropping the same files must be a no-op: the ledger remembers
	// them even though the inbox copies are new.
	e.drop(t, "terminals_01032026.csv", terminalsFile)
	e.drop(t, "transactions_01032026.txt", transactionsFile)

	res, err := e.runner.Run(ctx)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if res.FilesLoaded != 0 {
		t.Errorf("expected 0 files loaded on rerun, got %d", res.FilesLoaded)
	}
	if res.FilesSkipped != 2 {
		t.Errorf("expected 2 files skipped, got %d", res.FilesSkipped)
	}

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	alerts, err := e.repo.AlertsForDay(ctx, day)
	if err != nil {
		t.Fatal(err)
	}
	// Unchanged: the expired-passport alert and the Moscow/Kazan hop
	// from run one, nothing duplicated.
	if len(alerts) != 2 {
		t.Errorf("expected 2 alerts after rerun, got %d", len(alerts))
	}
}

func TestMultiDayBatchOrdering(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seedReference(t, e)

	// Day two moves terminal A010 to Kazan. Each day's facts must be
	// judged against that day's terminal picture.
	e.drop(t, "terminals_01032026.csv", terminalsFile)
	e.drop(t, "transactions_01032026.txt", `transaction_id;transaction_date;amount;card_num;oper_type;oper_result;terminal
tx-10;2026-03-01 12:00:00;100,00;4276000000000002;PAYMENT;APPROVED;A010
tx-11;2026-03-01 12:30:00;100,00;4276000000000002;PAYMENT;APPROVED;A030
`)
	e.drop(t, "terminals_02032026.csv", `terminal_id;terminal_type;terminal_city;terminal_address
A010;POS;Kazan;Bauman 7
A020;POS;Kazan;Bauman 5
A030;ATM;Moscow;Arbat 10
`)
	e.drop(t, "transactions_02032026.txt", `transaction_id;transaction_date;amount;card_num;oper_type;oper_result;terminal
tx-20;2026-03-02 12:00:00;100,00;4276000000000002;PAYMENT;APPROVED;A010
tx-21;2026-03-02 12:30:00;100,00;4276000000000002;PAYMENT;APPROVED;A030
`)

	res, err := e.runner.Run(ctx)
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	if res.FilesLoaded != 4 {
		t.Errorf("expected 4 files loaded, got %d", res.FilesLoaded)
	}

	// Day one: A010 and A030 are both Moscow, no hop.
	day1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	alerts1, err := e.repo.AlertsForDay(ctx, day1)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts1) != 0 {
		t.Errorf("expected no alerts on day one, got %d", len(alerts1))
	}

	// Day two: A010 is Kazan, A030 still Moscow, hop within 30 minutes.
	day2 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	alerts2, err := e.repo.AlertsForDay(ctx, day2)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts2) != 1 || alerts2[0].RuleType != domain.RuleCityHopping {
		t.Errorf("expected one city-hopping alert on day two, got %+v", alerts2)
	}
}
