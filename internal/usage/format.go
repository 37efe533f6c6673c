package usage

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPercentage formats a percentage value.
func FormatPercentage(value float64) string {
	if value < 1 {
		return fmt.Sprintf("%.2f%%", value)
	}
	if value < 10 {
		return fmt.Sprintf("%.1f%%", value)
	}
	return fmt.Sprintf("%.0f%%", value)
}

// FormatDurationMs formats a duration in milliseconds.
func FormatDurationMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	if ms < 3600000 {
		return fmt.Sprintf("%.1fm", float64(ms)/60000)
	}
	return fmt.Sprintf("%.1fh", float64(ms)/3600000)
}

// FormatStats renders stats as "12 calls, 92% ok, avg 35ms".
func FormatStats(s Stats) string {
	if s.Calls == 0 {
		return "no calls"
	}
	calls := "calls"
	if s.Calls == 1 {
		calls = "call"
	}
	return fmt.Sprintf("%d %s, %s ok, avg %s", s.Calls, calls, FormatPercentage(s.SuccessRate()), FormatDurationMs(s.AverageMs()))
}

// FormatSummary renders a tracker summary as an indented text table.
func FormatSummary(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total: %s\n", FormatStats(s.Total))
	for _, row := range s.ByTool {
		fmt.Fprintf(&b, "  %-20s %s\n", row.Tool, FormatStats(row.Stats))
	}
	if len(s.ErrorKinds) > 0 {
		kinds := make([]string, 0, len(s.ErrorKinds))
		for k := range s.ErrorKinds {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		b.WriteString("Errors:\n")
		for _, k := range kinds {
			fmt.Fprintf(&b, "  %-20s %d\n", k, s.ErrorKinds[k])
		}
	}
	return b.String()
}
