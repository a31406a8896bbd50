// Package rules implements the four fraud pattern detectors.
//
// Rules are independent and additive: a transaction may trigger more
// than one rule, and no deduplication happens across rule types. The
// engine materializes one business day's context (client joins, terminal
// histories, blacklist) and hands it to pure detector functions.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/openfraud/merlin/internal/domain"
	"github.com/openfraud/merlin/internal/metrics"
	"github.com/openfraud/merlin/internal/repository"
)

const (
	// cityHopWindow bounds Rule 3's pairwise comparison.
	cityHopWindow = time.Hour

	// guessMaxSpan bounds a qualifying Rule 4 run from first to last
	// transaction.
	guessMaxSpan = 20 * time.Minute

	// guessLookback widens the Rule 4 scan before the start of the
	// business day so runs begun the prior evening are still detected.
	guessLookback = 20 * time.Minute

	// guessMinRun is the minimum number of transactions in a
	// qualifying run.
	guessMinRun = 4

	// unknownCity stands in for an unresolvable terminal city. Two
	// unknown cities compare equal, never "different".
	unknownCity = "?"

	contextTTL = 15 * time.Minute
)

// Engine evaluates all four rules for one business day at a time.
type Engine struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewEngine creates a rule engine over a repository and a context cache.
func NewEngine(repo domain.Repository, cache domain.Cache) *Engine {
	return &Engine{repo: repo, cache: cache}
}

// dayContext is the materialized input the detectors run on.
type dayContext struct {
	day      time.Time
	txs      []*domain.Transaction // facts of the day, time-sorted
	window   []*domain.Transaction // widened scan window, time-sorted
	contexts map[string]*domain.ClientContext
	// blacklist maps passport number to its earliest entry date.
	blacklist map[string]time.Time
	// cityAt resolves a terminal's city as of a transaction timestamp.
	cityAt func(terminalID string, at time.Time) string
}

// EvaluateDay computes the full alert set for one business date. A date
// with no facts yields an empty set, not an error. Report timestamps and
// ids are left for the materializer to stamp.
func (e *Engine) EvaluateDay(ctx context.Context, day time.Time) ([]*domain.FraudAlert, error) {
	day = domain.DayOf(day)
	start := day
	end := day.Add(24 * time.Hour)

	window, err := e.repo.TransactionsBetween(ctx, start.Add(-guessLookback), end)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	if len(window) == 0 {
		return nil, nil
	}

	sort.SliceStable(window, func(i, j int) bool {
		if !window[i].OccurredAt.Equal(window[j].OccurredAt) {
			return window[i].OccurredAt.Before(window[j].OccurredAt)
		}
		return window[i].ID < window[j].ID
	})

	var txs []*domain.Transaction
	for _, t := range window {
		if !t.OccurredAt.Before(start) && t.OccurredAt.Before(end) {
			txs = append(txs, t)
		}
	}

	dc := &dayContext{day: day, txs: txs, window: window}

	if dc.contexts, err = e.resolveContexts(ctx, window); err != nil {
		return nil, err
	}
	if dc.blacklist, err = e.loadBlacklist(ctx, dc.contexts); err != nil {
		return nil, err
	}
	if dc.cityAt, err = e.cityResolver(ctx, txs); err != nil {
		return nil, err
	}

	var alerts []*domain.FraudAlert
	alerts = append(alerts, detectExpiredPassports(dc)...)
	alerts = append(alerts, detectClosedAccounts(dc)...)
	alerts = append(alerts, detectCityHopping(dc)...)
	alerts = append(alerts, detectAmountGuessing(dc)...)

	for _, a := range alerts {
		metrics.AlertsGenerated.WithLabelValues(string(a.RuleType)).Inc()
	}

	slog.Info("day evaluated",
		"business_date", day.Format("2006-01-02"),
		"transactions", len(txs),
		"alerts", len(alerts),
	)
	return alerts, nil
}

// resolveContexts joins every card in the window to its account and
// client, going through the cache first. Cards without a full join chain
// resolve to no context and are skipped by all rules.
func (e *Engine) resolveContexts(ctx context.Context, txs []*domain.Transaction) (map[string]*domain.ClientContext, error) {
	contexts := make(map[string]*domain.ClientContext)
	for _, t := range txs {
		if _, done := contexts[t.CardNum]; done {
			continue
		}

		if e.cache != nil {
			cc, err := e.cache.GetContext(ctx, t.CardNum)
			if err == nil && cc != nil {
				metrics.ContextLookups.WithLabelValues("hit").Inc()
				contexts[t.CardNum] = cc
				continue
			}
		}

		cc, err := e.repo.CardContext(ctx, t.CardNum)
		if errors.Is(err, repository.ErrNotFound) {
			metrics.ContextLookups.WithLabelValues("unmapped").Inc()
			contexts[t.CardNum] = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve card %s: %w", t.CardNum, err)
		}

		metrics.ContextLookups.WithLabelValues("miss").Inc()
		contexts[t.CardNum] = cc
		if e.cache != nil {
			_ = e.cache.SetContext(ctx, t.CardNum, cc, contextTTL)
		}
	}
	return contexts, nil
}

func (e *Engine) loadBlacklist(ctx context.Context, contexts map[string]*domain.ClientContext) (map[string]time.Time, error) {
	var passports []string
	seen := make(map[string]bool)
	for _, cc := range contexts {
		if cc == nil || cc.PassportNum == "" || seen[cc.PassportNum] {
			continue
		}
		seen[cc.PassportNum] = true
		passports = append(passports, cc.PassportNum)
	}

	earliest, err := e.repo.BlacklistEarliest(ctx, passports)
	if err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}
	return earliest, nil
}

// cityResolver preloads the version history of every terminal seen in the
// day and returns a point-in-time city lookup over it.
func (e *Engine) cityResolver(ctx context.Context, txs []*domain.Transaction) (func(string, time.Time) string, error) {
	var ids []string
	seen := make(map[string]bool)
	for _, t := range txs {
		if t.TerminalID == "" || seen[t.TerminalID] {
			continue
		}
		seen[t.TerminalID] = true
		ids = append(ids, t.TerminalID)
	}

	histories, err := e.repo.TerminalHistories(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load terminal histories: %w", err)
	}

	return func(terminalID string, at time.Time) string {
		for _, v := range histories[terminalID] {
			if !v.Deleted && v.Covers(at) {
				if v.City == "" {
					return unknownCity
				}
				return v.City
			}
		}
		return unknownCity
	}, nil
}

// newAlert builds an alert keyed to a transaction; the materializer
// stamps id and report time later.
func newAlert(t *domain.Transaction, cc *domain.ClientContext, rule domain.RuleType) *domain.FraudAlert {
	return &domain.FraudAlert{
		EventAt:      t.OccurredAt,
		BusinessDate: domain.DayOf(t.OccurredAt),
		Passport:     cc.PassportNum,
		FullName:     cc.FullName,
		Phone:        cc.Phone,
		RuleType:     rule,
		TransID:      t.ID,
	}
}

// byCard groups time-sorted transactions per card, preserving order.
func byCard(txs []*domain.Transaction) map[string][]*domain.Transaction {
	groups := make(map[string][]*domain.Transaction)
	for _, t := range txs {
		groups[t.CardNum] = append(groups[t.CardNum], t)
	}
	return groups
}
