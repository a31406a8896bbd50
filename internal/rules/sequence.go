package rules

import (
	"github.com/openfraud/merlin/internal/domain"
)

// detectAmountGuessing implements Rule 4: a declining-amount retry run.
//
// Per card, time-sorted transactions are segmented into runs: a run
// continues only when the current amount is strictly below the previous
// one and the previous result was REJECT; any other step closes the run
// and starts a new one. A run alerts when it has at least guessMinRun
// transactions, all but the last are REJECT, the last is SUCCESS, the
// whole run spans at most guessMaxSpan, and the final transaction falls
// on the business day under evaluation (runs are attributed to the day
// of their successful conclusion).
//
// The scan runs over the widened window so runs begun before midnight
// are still seen.
func detectAmountGuessing(dc *dayContext) []*domain.FraudAlert {
	var alerts []*domain.FraudAlert

	for card, txs := range byCard(dc.window) {
		cc := dc.contexts[card]
		if cc == nil {
			continue
		}

		var run []*domain.Transaction
		flush := func() {
			if t := qualifyRun(run, dc); t != nil {
				alerts = append(alerts, newAlert(t, cc, domain.RuleAmountGuessing))
			}
		}

		for _, t := range txs {
			if len(run) > 0 {
				prev := run[len(run)-1]
				if prev.Result == domain.ResultReject && t.Amount.LessThan(prev.Amount) {
					run = append(run, t)
					continue
				}
				flush()
				run = run[:0]
			}
			run = append(run, t)
		}
		flush()
	}
	return alerts
}

// qualifyRun returns the run's final transaction when the run qualifies
// as an amount-guessing alert, nil otherwise.
func qualifyRun(run []*domain.Transaction, dc *dayContext) *domain.Transaction {
	if len(run) < guessMinRun {
		return nil
	}

	last := run[len(run)-1]
	if last.Result != domain.ResultSuccess {
		return nil
	}
	for _, t := range run[:len(run)-1] {
		if t.Result != domain.ResultReject {
			return nil
		}
	}
	if last.OccurredAt.Sub(run[0].OccurredAt) > guessMaxSpan {
		return nil
	}
	if !domain.DayOf(last.OccurredAt).Equal(dc.day) {
		return nil
	}
	return last
}
