package rules

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfraud/merlin/internal/domain"
	"github.com/openfraud/merlin/internal/repository"
)

func newSeededRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "merlin-rules-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestEvaluateDayIdentityRules(t *testing.T) {
	repo := newSeededRepo(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	passportExpired := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	passportValid := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)
	accountClosed := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	clients := []*domain.Client{
		{ClientID: "cl-expired", LastName: "Petrov", FirstName: "Ivan", PassportNum: "4510 000001", PassportValidTo: &passportExpired, Phone: "+79160000001"},
		{ClientID: "cl-listed", LastName: "Sidorov", FirstName: "Oleg", PassportNum: "4510 000002", PassportValidTo: &passportValid, Phone: "+79160000002"},
		{ClientID: "cl-closed", LastName: "Orlova", FirstName: "Anna", PassportNum: "4510 000003", PassportValidTo: &passportValid, Phone: "+79160000003"},
		{ClientID: "cl-clean", LastName: "Smirnov", FirstName: "Pavel", PassportNum: "4510 000004", PassportValidTo: &passportValid, Phone: "+79160000004"},
	}
	if err := repo.UpsertClients(ctx, clients); err != nil {
		t.Fatalf("UpsertClients failed: %v", err)
	}

	accounts := []*domain.Account{
		{AccountNum: "acc-expired", ClientID: "cl-expired"},
		{AccountNum: "acc-listed", ClientID: "cl-listed"},
		{AccountNum: "acc-closed", ValidTo: &accountClosed, ClientID: "cl-closed"},
		{AccountNum: "acc-clean", ClientID: "cl-clean"},
	}
	if err := repo.UpsertAccounts(ctx, accounts); err != nil {
		t.Fatalf("UpsertAccounts failed: %v", err)
	}

	cards := []*domain.Card{
		{CardNum: "4001", AccountNum: "acc-expired"},
		{CardNum: "4002", AccountNum: "acc-listed"},
		{CardNum: "4003", AccountNum: "acc-closed"},
		{CardNum: "4004", AccountNum: "acc-clean"},
	}
	if err := repo.UpsertCards(ctx, cards); err != nil {
		t.Fatalf("UpsertCards failed: %v", err)
	}

	if err := repo.MergeBlacklist(ctx, []*domain.BlacklistEntry{
		{PassportNum: "4510 000002", EntryDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
	}); err != nil {
		t.Fatalf("MergeBlacklist failed: %v", err)
	}

	mk := func(id, card string, hour int) *domain.Transaction {
		return &domain.Transaction{
			ID:           id,
			OccurredAt:   day.Add(time.Duration(hour) * time.Hour),
			CardNum:      card,
			OperType:     "PAYMENT",
			Amount:       decimal.NewFromInt(100),
			Result:       domain.ResultSuccess,
			TerminalID:   "A010",
			BusinessDate: day,
		}
	}
	txs := []*domain.Transaction{
		mk("tx-expired", "4001", 10),
		mk("tx-listed", "4002", 11),
		mk("tx-closed", "4003", 12),
		mk("tx-clean", "4004", 13),
		mk("tx-unmapped", "9999", 14),
	}
	if _, err := repo.InsertTransactions(ctx, txs); err != nil {
		t.Fatalf("InsertTransactions failed: %v", err)
	}

	engine := NewEngine(repo, nil)
	alerts, err := engine.EvaluateDay(ctx, day)
	if err != nil {
		t.Fatalf("EvaluateDay failed: %v", err)
	}

	byRule := map[domain.RuleType][]string{}
	for _, a := range alerts {
		byRule[a.RuleType] = append(byRule[a.RuleType], a.TransID)
	}

	expired := byRule[domain.RuleExpiredPassport]
	if len(expired) != 2 {
		t.Fatalf("expected 2 passport alerts, got %v", expired)
	}
	seen := map[string]bool{}
	for _, id := range expired {
		seen[id] = true
	}
	if !seen["tx-expired"] || !seen["tx-listed"] {
		t.Errorf("passport rule missed transactions: %v", expired)
	}

	closed := byRule[domain.RuleClosedAccount]
	if len(closed) != 1 || closed[0] != "tx-closed" {
		t.Errorf("expected closed-account alert on tx-closed, got %v", closed)
	}

	if len(byRule[domain.RuleCityHopping]) != 0 || len(byRule[domain.RuleAmountGuessing]) != 0 {
		t.Errorf("unexpected alerts: %v", byRule)
	}

	for _, a := range alerts {
		if a.TransID == "tx-clean" || a.TransID == "tx-unmapped" {
			t.Errorf("transaction %s must not alert", a.TransID)
		}
		if a.ID != "" || !a.ReportAt.IsZero() {
			t.Error("engine must leave id and report time unstamped")
		}
		if a.FullName == "" || a.Passport == "" {
			t.Errorf("alert for %s missing client identity", a.TransID)
		}
	}
}

func TestEvaluateDayBlacklistEntryAfterTransaction(t *testing.T) {
	repo := newSeededRepo(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	passportValid := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := repo.UpsertClients(ctx, []*domain.Client{
		{ClientID: "cl-1", LastName: "Petrov", FirstName: "Ivan", PassportNum: "4510 000001", PassportValidTo: &passportValid, Phone: "+7916"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertAccounts(ctx, []*domain.Account{{AccountNum: "acc-1", ClientID: "cl-1"}}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertCards(ctx, []*domain.Card{{CardNum: "4001", AccountNum: "acc-1"}}); err != nil {
		t.Fatal(err)
	}

	// Listed only after the business day: the transaction predates the
	// listing and must not alert.
	if err := repo.MergeBlacklist(ctx, []*domain.BlacklistEntry{
		{PassportNum: "4510 000001", EntryDate: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.InsertTransactions(ctx, []*domain.Transaction{{
		ID: "tx-1", OccurredAt: day.Add(10 * time.Hour), CardNum: "4001",
		OperType: "PAYMENT", Amount: decimal.NewFromInt(50),
		Result: domain.ResultSuccess, TerminalID: "A010", BusinessDate: day,
	}}); err != nil {
		t.Fatal(err)
	}

	engine := NewEngine(repo, nil)
	alerts, err := engine.EvaluateDay(ctx, day)
	if err != nil {
		t.Fatalf("EvaluateDay failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(alerts))
	}
}

func TestEvaluateDayEmptyDay(t *testing.T) {
	repo := newSeededRepo(t)
	engine := NewEngine(repo, nil)

	alerts, err := engine.EvaluateDay(context.Background(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("EvaluateDay failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts for empty day, got %d", len(alerts))
	}
}

func TestEvaluateDayResolvesTerminalCityHistorically(t *testing.T) {
	repo := newSeededRepo(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	passportValid := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := repo.UpsertClients(ctx, []*domain.Client{
		{ClientID: "cl-1", LastName: "Petrov", FirstName: "Ivan", PassportNum: "4510 000001", PassportValidTo: &passportValid, Phone: "+7916"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertAccounts(ctx, []*domain.Account{{AccountNum: "acc-1", ClientID: "cl-1"}}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertCards(ctx, []*domain.Card{{CardNum: "4001", AccountNum: "acc-1"}}); err != nil {
		t.Fatal(err)
	}

	// Terminal B020 moved from Moscow to Kazan on March 5; on March 10
	// transactions at A010 (Moscow) and B020 must read Kazan and alert.
	if err := repo.ApplyTerminalChanges(ctx, domain.TerminalChangeSet{
		Inserts: []*domain.TerminalVersion{
			{TerminalID: "A010", Type: "POS", City: "Moscow", Address: "Tverskaya 1", EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), EffectiveTo: domain.OpenEnded},
			{TerminalID: "B020", Type: "POS", City: "Moscow", Address: "Arbat 5", EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), EffectiveTo: time.Date(2026, 3, 4, 23, 59, 59, 0, time.UTC)},
			{TerminalID: "B020", Type: "POS", City: "Kazan", Address: "Baumana 2", EffectiveFrom: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), EffectiveTo: domain.OpenEnded},
		},
	}); err != nil {
		t.Fatal(err)
	}

	mk := func(id, terminal string, minute int) *domain.Transaction {
		return &domain.Transaction{
			ID:         id,
			OccurredAt: day.Add(10*time.Hour + time.Duration(minute)*time.Minute),
			CardNum:    "4001", OperType: "PAYMENT",
			Amount: decimal.NewFromInt(100), Result: domain.ResultSuccess,
			TerminalID: terminal, BusinessDate: day,
		}
	}
	if _, err := repo.InsertTransactions(ctx, []*domain.Transaction{
		mk("tx-1", "A010", 0),
		mk("tx-2", "B020", 30),
	}); err != nil {
		t.Fatal(err)
	}

	engine := NewEngine(repo, nil)
	alerts, err := engine.EvaluateDay(ctx, day)
	if err != nil {
		t.Fatalf("EvaluateDay failed: %v", err)
	}

	var hops []string
	for _, a := range alerts {
		if a.RuleType == domain.RuleCityHopping {
			hops = append(hops, a.TransID)
		}
	}
	if len(hops) != 1 || hops[0] != "tx-2" {
		t.Fatalf("expected one city-hopping alert on tx-2, got %v", hops)
	}
}
