package rules

import (
	"testing"
	"time"

	"github.com/openfraud/merlin/internal/domain"
)

// cityMap builds a resolver over fixed terminal → city assignments.
func cityMap(m map[string]string) func(string, time.Time) string {
	return func(terminalID string, _ time.Time) string {
		if city, ok := m[terminalID]; ok && city != "" {
			return city
		}
		return unknownCity
	}
}

func hopContext(txs []*domain.Transaction, cities map[string]string) *dayContext {
	return &dayContext{
		day:       guessDay(),
		txs:       txs,
		window:    txs,
		contexts:  map[string]*domain.ClientContext{"4111": testContext},
		blacklist: map[string]time.Time{},
		cityAt:    cityMap(cities),
	}
}

func hopTx(id string, offset time.Duration, terminalID string) *domain.Transaction {
	t := tx(id, guessDay().Add(10*time.Hour).Add(offset), "100", domain.ResultSuccess)
	t.TerminalID = terminalID
	return t
}

func TestCityHoppingDifferentCitiesWithinHour(t *testing.T) {
	dc := hopContext([]*domain.Transaction{
		hopTx("t1", 0, "MSK-1"),
		hopTx("t2", 30*time.Minute, "KZN-1"),
	}, map[string]string{"MSK-1": "Moscow", "KZN-1": "Kazan"})

	alerts := detectCityHopping(dc)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].TransID != "t2" {
		t.Errorf("alert must key to the later transaction, got %s", alerts[0].TransID)
	}
}

func TestCityHoppingSameCityNoAlert(t *testing.T) {
	dc := hopContext([]*domain.Transaction{
		hopTx("t1", 0, "MSK-1"),
		hopTx("t2", 10*time.Minute, "MSK-2"),
	}, map[string]string{"MSK-1": "Moscow", "MSK-2": "Moscow"})

	if alerts := detectCityHopping(dc); len(alerts) != 0 {
		t.Fatalf("same city must not alert, got %d", len(alerts))
	}
}

func TestCityHoppingOutsideWindowNoAlert(t *testing.T) {
	dc := hopContext([]*domain.Transaction{
		hopTx("t1", 0, "MSK-1"),
		hopTx("t2", 61*time.Minute, "KZN-1"),
	}, map[string]string{"MSK-1": "Moscow", "KZN-1": "Kazan"})

	if alerts := detectCityHopping(dc); len(alerts) != 0 {
		t.Fatalf("pair outside one hour must not alert, got %d", len(alerts))
	}
}

func TestCityHoppingExactHourBoundaryAlerts(t *testing.T) {
	dc := hopContext([]*domain.Transaction{
		hopTx("t1", 0, "MSK-1"),
		hopTx("t2", time.Hour, "KZN-1"),
	}, map[string]string{"MSK-1": "Moscow", "KZN-1": "Kazan"})

	if alerts := detectCityHopping(dc); len(alerts) != 1 {
		t.Fatalf("exactly one hour apart qualifies, got %d alerts", len(alerts))
	}
}

func TestCityHoppingUnknownCitiesCompareEqual(t *testing.T) {
	// Neither terminal resolves: both take the placeholder and the pair
	// must not count as different cities.
	dc := hopContext([]*domain.Transaction{
		hopTx("t1", 0, "GONE-1"),
		hopTx("t2", 10*time.Minute, "GONE-2"),
	}, map[string]string{})

	if alerts := detectCityHopping(dc); len(alerts) != 0 {
		t.Fatalf("two unknown cities must not alert, got %d", len(alerts))
	}
}

func TestCityHoppingUnknownAgainstKnownAlerts(t *testing.T) {
	dc := hopContext([]*domain.Transaction{
		hopTx("t1", 0, "MSK-1"),
		hopTx("t2", 10*time.Minute, "GONE-1"),
	}, map[string]string{"MSK-1": "Moscow"})

	if alerts := detectCityHopping(dc); len(alerts) != 1 {
		t.Fatalf("known against unknown city differs, got %d alerts", len(alerts))
	}
}

func TestCityHoppingOneAlertPerQualifyingPair(t *testing.T) {
	// Three cities in forty minutes: t2 pairs with t1, t3 pairs with
	// both t1 and t2, giving three alerts total.
	dc := hopContext([]*domain.Transaction{
		hopTx("t1", 0, "MSK-1"),
		hopTx("t2", 20*time.Minute, "KZN-1"),
		hopTx("t3", 40*time.Minute, "SAM-1"),
	}, map[string]string{"MSK-1": "Moscow", "KZN-1": "Kazan", "SAM-1": "Samara"})

	alerts := detectCityHopping(dc)
	if len(alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(alerts))
	}

	byTx := map[string]int{}
	for _, a := range alerts {
		byTx[a.TransID]++
	}
	if byTx["t2"] != 1 || byTx["t3"] != 2 {
		t.Errorf("unexpected alert distribution: %v", byTx)
	}
}

func TestCityHoppingSimultaneousTransactionsNoAlert(t *testing.T) {
	// The second leg must occur strictly after the first.
	dc := hopContext([]*domain.Transaction{
		hopTx("t1", 0, "MSK-1"),
		hopTx("t2", 0, "KZN-1"),
	}, map[string]string{"MSK-1": "Moscow", "KZN-1": "Kazan"})

	if alerts := detectCityHopping(dc); len(alerts) != 0 {
		t.Fatalf("simultaneous pair must not alert, got %d", len(alerts))
	}
}
