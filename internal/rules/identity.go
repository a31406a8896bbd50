package rules

import (
	"github.com/openfraud/merlin/internal/domain"
)

// detectExpiredPassports implements Rule 1: a transaction by a client
// whose passport validity date lies before the transaction date, or
// whose passport was blacklisted on or before the transaction date.
// Each qualifying transaction yields exactly one alert.
func detectExpiredPassports(dc *dayContext) []*domain.FraudAlert {
	var alerts []*domain.FraudAlert
	for _, t := range dc.txs {
		cc := dc.contexts[t.CardNum]
		if cc == nil {
			continue
		}

		txDate := domain.DayOf(t.OccurredAt)

		expired := cc.PassportValidTo != nil && txDate.After(*cc.PassportValidTo)

		listed := false
		if entry, ok := dc.blacklist[cc.PassportNum]; ok {
			listed = !entry.After(txDate)
		}

		if expired || listed {
			alerts = append(alerts, newAlert(t, cc, domain.RuleExpiredPassport))
		}
	}
	return alerts
}

// detectClosedAccounts implements Rule 2: a transaction against an
// account whose contract validity ended before the transaction date.
func detectClosedAccounts(dc *dayContext) []*domain.FraudAlert {
	var alerts []*domain.FraudAlert
	for _, t := range dc.txs {
		cc := dc.contexts[t.CardNum]
		if cc == nil || cc.AccountValidTo == nil {
			continue
		}

		if domain.DayOf(t.OccurredAt).After(*cc.AccountValidTo) {
			alerts = append(alerts, newAlert(t, cc, domain.RuleClosedAccount))
		}
	}
	return alerts
}
