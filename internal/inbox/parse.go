package inbox

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfraud/merlin/internal/domain"
)

// Upstream exports vary in column naming between extracts; headers are
// lowercased and folded to the canonical names before lookup.
var headerAliases = map[string]string{
	"transaction_id":   "trans_id",
	"transaction_date": "trans_date",
	"amount":           "amt",
	"oper_result":      "result",
	"terminal":         "terminal_id",
	"id":               "terminal_id",
	"passport":         "passport_num",
	"date":             "entry_dt",
}

// ReadTransactions parses a transactions_*.txt export. Amounts use a
// comma decimal separator.
func ReadTransactions(path string) ([]*domain.Transaction, error) {
	rows, cols, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if missing := missingColumns(cols, "trans_id", "trans_date", "card_num", "oper_type", "amt", "result", "terminal_id"); len(missing) > 0 {
		return nil, fmt.Errorf("%s: missing columns: %v", path, missing)
	}

	txs := make([]*domain.Transaction, 0, len(rows))
	for i, row := range rows {
		occurredAt, err := parseTimestamp(row["trans_date"])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: trans_date: %w", path, i+1, err)
		}
		amount, err := parseAmount(row["amt"])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: amt: %w", path, i+1, err)
		}
		txs = append(txs, &domain.Transaction{
			ID:         row["trans_id"],
			OccurredAt: occurredAt,
			CardNum:    strings.TrimSpace(row["card_num"]),
			OperType:   row["oper_type"],
			Amount:     amount,
			Result:     row["result"],
			TerminalID: row["terminal_id"],
		})
	}
	return txs, nil
}

// ReadTerminals parses a terminals_*.csv snapshot. The file is a full
// picture of the terminal estate as of its date.
func ReadTerminals(path string) ([]domain.TerminalRecord, error) {
	rows, cols, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if missing := missingColumns(cols, "terminal_id", "terminal_type", "terminal_city", "terminal_address"); len(missing) > 0 {
		return nil, fmt.Errorf("%s: missing columns: %v", path, missing)
	}

	recs := make([]domain.TerminalRecord, 0, len(rows))
	for i, row := range rows {
		if row["terminal_id"] == "" {
			return nil, fmt.Errorf("%s row %d: empty terminal_id", path, i+1)
		}
		recs = append(recs, domain.TerminalRecord{
			TerminalID: row["terminal_id"],
			Type:       row["terminal_type"],
			City:       row["terminal_city"],
			Address:    row["terminal_address"],
		})
	}
	return recs, nil
}

// ReadBlacklist parses a passport_blacklist_*.csv increment.
func ReadBlacklist(path string) ([]*domain.BlacklistEntry, error) {
	rows, cols, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if missing := missingColumns(cols, "passport_num", "entry_dt"); len(missing) > 0 {
		return nil, fmt.Errorf("%s: missing columns: %v", path, missing)
	}

	entries := make([]*domain.BlacklistEntry, 0, len(rows))
	for i, row := range rows {
		entryAt, err := parseTimestamp(row["entry_dt"])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: entry_dt: %w", path, i+1, err)
		}
		entries = append(entries, &domain.BlacklistEntry{
			PassportNum: strings.TrimSpace(row["passport_num"]),
			EntryDate:   domain.DayOf(entryAt),
		})
	}
	return entries, nil
}

// readTable reads a delimited file into canonical-keyed row maps,
// sniffing the delimiter from the header line. The second return value
// is the canonicalized column list, for required-column checks.
func readTable(path string) ([]map[string]string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	headerLine, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	delim := sniffDelimiter(headerLine)

	r := csv.NewReader(io.MultiReader(strings.NewReader(headerLine), br))
	r.Comma = delim
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("parse header of %s: %w", path, err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if canon, ok := headerAliases[name]; ok {
			name = canon
		}
		cols[i] = name
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", path, err)
		}
		row := make(map[string]string, len(cols))
		for i, v := range rec {
			if i < len(cols) {
				row[cols[i]] = strings.TrimSpace(v)
			}
		}
		rows = append(rows, row)
	}
	return rows, cols, nil
}

// missingColumns reports which required canonical columns the header
// lacks, in the order given.
func missingColumns(cols []string, required ...string) []string {
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	var missing []string
	for _, r := range required {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	return missing
}

func sniffDelimiter(header string) rune {
	if strings.Count(header, ";") > strings.Count(header, ",") {
		return ';'
	}
	return ','
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// parseAmount accepts both comma and dot decimal separators.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	return decimal.NewFromString(s)
}
