package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Filter selects audit entries. Empty fields match everything.
type Filter struct {
	Subject string
	Op      string
	Signer  string
	From    time.Time
	To      time.Time
	// Last keeps only the most recent N matches when positive.
	Last int
}

// Summary counts outcomes across the selected entries.
type Summary struct {
	Total          int            `json:"total"`
	OK             int            `json:"ok"`
	Rejected       int            `json:"rejected"`
	Errors         int            `json:"errors"`
	Codes          map[string]int `json:"codes,omitempty"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
}

// Result holds filtered entries and their summary.
type Result struct {
	Filter  string       `json:"filter"`
	Entries []AuditEntry `json:"entries"`
	Summary Summary      `json:"summary"`
}

// Query reads the audit log and returns entries matching the filter.
func Query(path string, filter Filter) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &Result{Filter: filter.String()}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if filter.matches(entry) {
			result.Entries = append(result.Entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if filter.Last > 0 && len(result.Entries) > filter.Last {
		result.Entries = result.Entries[len(result.Entries)-filter.Last:]
	}
	for _, e := range result.Entries {
		updateSummary(&result.Summary, e)
	}
	return result, nil
}

func (f Filter) matches(e AuditEntry) bool {
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.Op != "" && e.Op != f.Op {
		return false
	}
	if f.Signer != "" && e.Signer != f.Signer {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// String renders the non-empty filter fields for headers.
func (f Filter) String() string {
	var parts []string
	if f.Subject != "" {
		parts = append(parts, "subject="+f.Subject)
	}
	if f.Op != "" {
		parts = append(parts, "op="+f.Op)
	}
	if f.Signer != "" {
		parts = append(parts, "signer="+f.Signer)
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, " ")
}

func updateSummary(s *Summary, e AuditEntry) {
	s.Total++
	switch e.Outcome {
	case OutcomeOK:
		s.OK++
	case OutcomeRejected:
		s.Rejected++
	case OutcomeError:
		s.Errors++
	}
	if e.Code != "" {
		if s.Codes == nil {
			s.Codes = make(map[string]int)
		}
		s.Codes[e.Code]++
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
