// Package inbox discovers and parses drop-directory source files.
//
// Files arrive named by kind and date: transactions_DDMMYYYY.txt,
// terminals_DDMMYYYY.csv and passport_blacklist_DDMMYYYY.csv. After a
// successful load each file is archived with a .backup suffix.
package inbox

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// Source kinds, also used as ledger source keys.
const (
	SourceTransactions = "transactions"
	SourceTerminals    = "terminals"
	SourceBlacklist    = "passport_blacklist"
)

var filePatterns = map[string]*regexp.Regexp{
	SourceTransactions: regexp.MustCompile(`^transactions_(\d{8})\.txt$`),
	SourceTerminals:    regexp.MustCompile(`^terminals_(\d{8})\.csv$`),
	SourceBlacklist:    regexp.MustCompile(`^passport_blacklist_(\d{8})\.csv$`),
}

// File is a recognized inbox entry.
type File struct {
	Source string
	Name   string
	Path   string
	// Date is the DDMMYYYY stamp from the filename, at midnight UTC.
	Date time.Time
}

// Scanner lists and archives inbox files.
type Scanner struct {
	inboxDir   string
	archiveDir string
}

func NewScanner(inboxDir, archiveDir string) *Scanner {
	return &Scanner{inboxDir: inboxDir, archiveDir: archiveDir}
}

// Scan returns every recognized file in the inbox, ordered by file date
// and, within one date, by source so dimension updates (terminals,
// blacklist) precede facts.
func (s *Scanner) Scan() ([]File, error) {
	entries, err := os.ReadDir(s.inboxDir)
	if err != nil {
		return nil, fmt.Errorf("read inbox %s: %w", s.inboxDir, err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, ok := Recognize(e.Name())
		if !ok {
			continue
		}
		f.Path = filepath.Join(s.inboxDir, e.Name())
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].Date.Equal(files[j].Date) {
			return files[i].Date.Before(files[j].Date)
		}
		return sourceRank(files[i].Source) < sourceRank(files[j].Source)
	})
	return files, nil
}

// Recognize matches a bare filename against the known patterns.
func Recognize(name string) (File, bool) {
	for source, re := range filePatterns {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		date, err := time.Parse("02012006", m[1])
		if err != nil {
			return File{}, false
		}
		return File{Source: source, Name: name, Date: date.UTC()}, true
	}
	return File{}, false
}

// Archive moves a loaded file into the archive directory, appending the
// .backup suffix. An existing archive of the same name is overwritten:
// the ledger is the authority on what was processed, the archive is a
// convenience copy.
func (s *Scanner) Archive(f File) error {
	if err := os.MkdirAll(s.archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	dst := filepath.Join(s.archiveDir, f.Name+".backup")
	if err := os.Rename(f.Path, dst); err != nil {
		return fmt.Errorf("archive %s: %w", f.Name, err)
	}
	return nil
}

func sourceRank(source string) int {
	switch source {
	case SourceTerminals:
		return 0
	case SourceBlacklist:
		return 1
	default:
		return 2
	}
}
