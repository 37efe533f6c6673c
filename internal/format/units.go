package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// Currency formats an amount as US dollars with digit grouping, e.g. "$1,234.50".
func Currency(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "$0.00"
	}
	cents := math.Round(amount * 100)
	switch {
	case cents < 0:
		return "-" + printer.Sprintf("$%.2f", -cents/100)
	case cents == 0:
		return "$0.00"
	}
	return printer.Sprintf("$%.2f", cents/100)
}

// Number formats a quantity with grouping and up to one decimal place.
func Number(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	if v == math.Trunc(v) {
		return printer.Sprintf("%d", int64(v))
	}
	return printer.Sprintf("%.1f", v)
}

// Percent formats a percentage with one decimal place.
func Percent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0.0%"
	}
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}

// Date renders a date as "Jan 2, 2006". Strings are parsed as YYYY-MM-DD or
// RFC 3339 and returned unchanged when they do not parse.
func Date(value any) string {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return "unknown date"
		}
		return v.Format("Jan 2, 2006")
	case *time.Time:
		if v == nil {
			return "unknown date"
		}
		return Date(*v)
	case string:
		if t, err := time.Parse(time.DateOnly, v); err == nil {
			return t.Format("Jan 2, 2006")
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.Format("Jan 2, 2006")
		}
		return v
	default:
		return fmt.Sprint(value)
	}
}

// Plural returns "1 trip" or "3 trips".
func Plural(n int, singular, plural string) string {
	if n == 1 {
		return "1 " + singular
	}
	return printer.Sprintf("%d", n) + " " + plural
}

// Label title-cases an identifier such as "completed" or "fuel_type".
func Label(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	// Casers are stateful; build one per call.
	return cases.Title(language.English).String(s)
}

// Elapsed formats a millisecond duration as "120ms" below one second and
// as seconds with trailing zeros trimmed above it ("1.5s").
func Elapsed(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	if ms < 1000 {
		return strconv.FormatInt(ms, 10) + "ms"
	}
	return trimTrailingZeros(strconv.FormatFloat(float64(ms)/1000, 'f', 2, 64)) + "s"
}

// trimTrailingZeros removes trailing zeros after the decimal point.
// e.g., "1.50" -> "1.5", "2.00" -> "2"
func trimTrailingZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
