package domain

import (
	"strings"
	"time"
)

// OpenEnded is the effective_to sentinel marking a version as current.
var OpenEnded = time.Date(5999, time.December, 31, 23, 59, 59, 0, time.UTC)

// TerminalRecord is one row of a point-in-time terminal snapshot.
type TerminalRecord struct {
	TerminalID string `json:"terminalId"`
	Type       string `json:"type"`
	City       string `json:"city"`
	Address    string `json:"address"`
}

// TerminalVersion is one interval of a terminal's attribute history
// (slowly-changing-dimension type 2). Intervals for a terminal are
// non-overlapping with a one-second gap between a version's effective_to
// and its successor's effective_from.
type TerminalVersion struct {
	TerminalID    string    `json:"terminalId"`
	Type          string    `json:"type"`
	City          string    `json:"city"`
	Address       string    `json:"address"`
	EffectiveFrom time.Time `json:"effectiveFrom"`
	EffectiveTo   time.Time `json:"effectiveTo"`
	Deleted       bool      `json:"deleted"`
}

// Open reports whether this is the terminal's current version.
func (v *TerminalVersion) Open() bool {
	return v.EffectiveTo.Equal(OpenEnded)
}

// Covers reports whether t falls inside the version's interval
// (both bounds inclusive).
func (v *TerminalVersion) Covers(t time.Time) bool {
	return !t.Before(v.EffectiveFrom) && !t.After(v.EffectiveTo)
}

// SameAttributes reports whether the version carries exactly the
// attributes of a snapshot record.
func (v *TerminalVersion) SameAttributes(r TerminalRecord) bool {
	return v.Type == r.Type && v.City == r.City && v.Address == r.Address
}

// TerminalChangeSet is the write set one snapshot application produces.
// The repository applies it in a single transaction.
type TerminalChangeSet struct {
	Closes  []TerminalClose
	Inserts []*TerminalVersion
}

// TerminalClose closes the version identified by (TerminalID,
// EffectiveFrom), setting effective_to to CloseAt.
type TerminalClose struct {
	TerminalID    string
	EffectiveFrom time.Time
	CloseAt       time.Time
	Deleted       bool
}

// Empty reports whether the change set carries no writes.
func (c TerminalChangeSet) Empty() bool {
	return len(c.Closes) == 0 && len(c.Inserts) == 0
}

// Card maps a card number to its account.
type Card struct {
	CardNum    string `json:"cardNum"`
	AccountNum string `json:"accountNum"`
}

// Account is a client contract. A nil ValidTo means open-ended.
type Account struct {
	AccountNum string     `json:"accountNum"`
	ValidTo    *time.Time `json:"validTo,omitempty"`
	ClientID   string     `json:"clientId"`
}

// Client holds the identity and contact fields alerts are reported with.
type Client struct {
	ClientID        string     `json:"clientId"`
	LastName        string     `json:"lastName"`
	FirstName       string     `json:"firstName"`
	Patronymic      string     `json:"patronymic"`
	DateOfBirth     *time.Time `json:"dateOfBirth,omitempty"`
	PassportNum     string     `json:"passportNum"`
	PassportValidTo *time.Time `json:"passportValidTo,omitempty"`
	Phone           string     `json:"phone"`
}

// FullName renders "Last First Patronymic" with a missing patronymic
// dropped.
func (c *Client) FullName() string {
	return strings.TrimSpace(c.LastName + " " + c.FirstName + " " + c.Patronymic)
}

// BlacklistEntry marks a passport as flagged from EntryDate onward.
type BlacklistEntry struct {
	PassportNum string    `json:"passportNum"`
	EntryDate   time.Time `json:"entryDate"`
}

// ClientContext is the card → account → client join product the rule
// engine resolves once per card and caches.
type ClientContext struct {
	CardNum         string     `json:"cardNum"`
	AccountNum      string     `json:"accountNum"`
	AccountValidTo  *time.Time `json:"accountValidTo,omitempty"`
	ClientID        string     `json:"clientId"`
	FullName        string     `json:"fullName"`
	PassportNum     string     `json:"passportNum"`
	PassportValidTo *time.Time `json:"passportValidTo,omitempty"`
	Phone           string     `json:"phone"`
}
