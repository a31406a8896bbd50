package rules

import (
	"time"

	"github.com/openfraud/merlin/internal/domain"
)

// detectCityHopping implements Rule 3: for every ordered pair of
// same-card transactions where the second occurs strictly after the
// first, within one hour, and the two resolved terminal cities differ,
// one alert is emitted keyed to the second transaction.
//
// A transaction can be the second of several qualifying pairs and is
// alerted once per pair; callers needing one alert per transaction must
// dedup downstream. Unresolvable cities take a placeholder value, so two
// unknown cities never count as different.
//
// Instead of a quadratic self-join, each card's time-sorted stream is
// scanned once against a one-hour lookback buffer.
func detectCityHopping(dc *dayContext) []*domain.FraudAlert {
	var alerts []*domain.FraudAlert

	for card, txs := range byCard(dc.txs) {
		cc := dc.contexts[card]
		if cc == nil {
			continue
		}

		type visit struct {
			at   time.Time
			city string
		}
		var buffer []visit

		for _, t := range txs {
			city := dc.cityAt(t.TerminalID, t.OccurredAt)

			// Evict buffered visits older than the window.
			horizon := t.OccurredAt.Add(-cityHopWindow)
			keep := buffer[:0]
			for _, v := range buffer {
				if !v.at.Before(horizon) {
					keep = append(keep, v)
				}
			}
			buffer = keep

			for _, v := range buffer {
				if t.OccurredAt.After(v.at) && v.city != city {
					alerts = append(alerts, newAlert(t, cc, domain.RuleCityHopping))
				}
			}

			buffer = append(buffer, visit{at: t.OccurredAt, city: city})
		}
	}
	return alerts
}
