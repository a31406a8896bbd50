package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one card transaction fact. Facts are immutable once
// stored; re-ingesting a known trans_id is a silent no-op.
type Transaction struct {
	ID         string          `json:"id"`
	OccurredAt time.Time       `json:"occurredAt"`
	CardNum    string          `json:"cardNum"`
	OperType   string          `json:"operType"`
	Amount     decimal.Decimal `json:"amount"`
	Result     string          `json:"result"`
	TerminalID string          `json:"terminalId"`

	// BusinessDate is the date bucket the source batch was filed under,
	// independent of wall-clock processing time.
	BusinessDate time.Time `json:"businessDate"`
}

// Operation result codes after normalization.
const (
	ResultSuccess = "SUCCESS"
	ResultReject  = "REJECT"
)

// resultAliases maps raw acquirer result codes onto the two canonical ones.
var resultAliases = map[string]string{
	"APPROVED": ResultSuccess,
	"ACCEPTED": ResultSuccess,
	"OK":       ResultSuccess,
	"DECLINED": ResultReject,
	"DENIED":   ResultReject,
	"FAILED":   ResultReject,
}

// NormalizeResult maps a raw result code to SUCCESS/REJECT. Codes with no
// known alias are upper-cased and passed through unchanged.
func NormalizeResult(raw string) string {
	r := strings.ToUpper(strings.TrimSpace(raw))
	if canonical, ok := resultAliases[r]; ok {
		return canonical
	}
	return r
}

// DayOf truncates a timestamp to its UTC calendar date (midnight).
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
