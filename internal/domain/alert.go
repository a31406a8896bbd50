package domain

import (
	"time"
)

// RuleType identifies one of the four fraud patterns.
type RuleType string

const (
	// RuleExpiredPassport flags transactions by clients whose passport
	// has expired or is blacklisted.
	RuleExpiredPassport RuleType = "EXPIRED_PASSPORT"

	// RuleClosedAccount flags transactions against contracts past their
	// valid_to date.
	RuleClosedAccount RuleType = "CLOSED_ACCOUNT"

	// RuleCityHopping flags same-card transactions in different cities
	// within one hour.
	RuleCityHopping RuleType = "CITY_HOPPING"

	// RuleAmountGuessing flags declining-amount retry runs ending in a
	// success within twenty minutes.
	RuleAmountGuessing RuleType = "AMOUNT_GUESSING"
)

// Description returns the human-readable event type reported for alerts.
func (r RuleType) Description() string {
	switch r {
	case RuleExpiredPassport:
		return "expired or blacklisted passport"
	case RuleClosedAccount:
		return "operation on a closed contract"
	case RuleCityHopping:
		return "operations in different cities within one hour"
	case RuleAmountGuessing:
		return "amount guessing"
	default:
		return string(r)
	}
}

// FraudAlert is one row of the daily fraud mart. A transaction may appear
// under more than one rule type; rules never dedup across each other.
type FraudAlert struct {
	ID           string    `json:"id"`
	EventAt      time.Time `json:"eventAt"`
	BusinessDate time.Time `json:"businessDate"`
	Passport     string    `json:"passport"`
	FullName     string    `json:"fullName"`
	Phone        string    `json:"phone"`
	RuleType     RuleType  `json:"ruleType"`
	TransID      string    `json:"transId"`
	ReportAt     time.Time `json:"reportAt"`
}
