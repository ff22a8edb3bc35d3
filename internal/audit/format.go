package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a Result as a human-readable text timeline.
func FormatTimeline(result *Result) string {
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Filter: %s | No entries found.\n", result.Filter)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Filter: %s | %s–%s UTC\n", result.Filter,
		formatDateRange(result.Summary.FirstTimestamp), formatTimeOnly(result.Summary.LastTimestamp))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		outcome := strings.ToUpper(e.Outcome)
		if e.Code != "" {
			outcome += " " + e.Code
		}
		fmt.Fprintf(&b, "%-10s %-18s %-34s %-14s %s\n",
			formatTimeOnly(e.Timestamp), truncate(e.Op, 18), outcome, short(e.Signer), short(e.Subject))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a Result as indented JSON.
func FormatJSON(result *Result) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal audit result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s Summary) string {
	parts := []string{fmt.Sprintf("%d ok", s.OK)}
	if s.Rejected > 0 {
		parts = append(parts, fmt.Sprintf("%d rejected", s.Rejected))
	}
	if s.Errors > 0 {
		parts = append(parts, fmt.Sprintf("%d error", s.Errors))
	}
	line := "Summary: " + strings.Join(parts, ", ")

	if len(s.Codes) > 0 {
		codes := make([]string, 0, len(s.Codes))
		for c := range s.Codes {
			codes = append(codes, c)
		}
		sort.Strings(codes)
		for i, c := range codes {
			codes[i] = fmt.Sprintf("%s×%d", c, s.Codes[c])
		}
		line += " | " + strings.Join(codes, " ")
	}
	return line + "\n"
}

// short abbreviates a hex key to its first 12 characters.
func short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
