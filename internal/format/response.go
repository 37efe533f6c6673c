// Package format turns handler output into fixed-shape, human-readable
// summaries. Every function here is pure: identical input always produces
// byte-identical output.
package format

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/haasonsaas/pam/internal/handlers"
	"github.com/haasonsaas/pam/internal/tools"
)

// Itemization caps.
const (
	TopCategories = 3
	TopItems      = 5
)

// Empty-state sentences, one per tool.
const (
	EmptyExpenses = "No expenses found for the specified filters."
	EmptyBudgets  = "No budgets have been set up yet."
	EmptyIncome   = "No income records found for the specified filters."
	EmptyFuel     = "No fuel purchases found for the specified period."
	EmptyTrips    = "No trips found for the specified filters."
	EmptyTrip     = "Trip not found."
	EmptyProfile  = "No profile information available."
	EmptySearch   = "No results found for your search."
	EmptyData     = "No data available."
)

// Response renders data returned by the named tool. Unknown tools and
// unexpected data shapes fall back to a generic summary, so it never fails.
func Response(toolName string, data any) string {
	switch tools.ToolName(toolName) {
	case tools.GetUserExpenses:
		if v, ok := data.(handlers.ExpenseSummary); ok {
			return expenses(v)
		}
	case tools.GetUserBudgets:
		if v, ok := data.(handlers.BudgetSummary); ok {
			return budgets(v)
		}
	case tools.GetIncomeData:
		if v, ok := data.(handlers.IncomeSummary); ok {
			return income(v)
		}
	case tools.GetFuelData:
		if v, ok := data.(handlers.FuelSummary); ok {
			return fuel(v)
		}
	case tools.GetTripHistory:
		if v, ok := data.(handlers.TripHistory); ok {
			return tripHistory(v)
		}
	case tools.GetTripDetails:
		if v, ok := data.(handlers.TripDetails); ok {
			return tripDetails(v)
		}
	case tools.GetUserProfile:
		if v, ok := data.(handlers.ProfileData); ok {
			return profile(v)
		}
	case tools.SearchUserData:
		if v, ok := data.(handlers.SearchResults); ok {
			return search(v)
		}
	}
	return Generic(data)
}

// Generic summarises data by shape: item count for lists, property count for
// objects.
func Generic(data any) string {
	if data == nil {
		return EmptyData
	}
	rv := reflect.ValueOf(data)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return EmptyData
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return fmt.Sprintf("Retrieved %d items", rv.Len())
	case reflect.Map:
		return fmt.Sprintf("Retrieved data with %d properties", rv.Len())
	case reflect.Struct:
		raw, err := json.Marshal(rv.Interface())
		if err != nil {
			return EmptyData
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return EmptyData
		}
		return fmt.Sprintf("Retrieved data with %d properties", len(fields))
	default:
		return fmt.Sprint(rv.Interface())
	}
}

// section accumulates lines and tracks truncation for itemised lists.
type section struct {
	b strings.Builder
}

func (s *section) line(format string, args ...any) {
	if s.b.Len() > 0 {
		s.b.WriteByte('\n')
	}
	fmt.Fprintf(&s.b, format, args...)
}

func (s *section) blank() {
	s.b.WriteByte('\n')
}

func (s *section) more(total, shown int, noun string) {
	if total > shown {
		s.line("…and %d more %s", total-shown, noun)
	}
}

func (s *section) String() string { return s.b.String() }

func expenses(v handlers.ExpenseSummary) string {
	if v.Count == 0 {
		return EmptyExpenses
	}
	var s section
	s.line("Expense Overview:")
	s.line("• Total Spent: %s", Currency(v.Total))
	s.line("• Transactions: %d", v.Count)
	s.line("• Average: %s", Currency(v.Average))

	if len(v.Categories) > 0 {
		s.blank()
		s.line("Top Categories:")
		shown := min(len(v.Categories), TopCategories)
		for _, c := range v.Categories[:shown] {
			s.line("• %s: %s (%s)", c.Category, Currency(c.Total), Plural(c.Count, "transaction", "transactions"))
		}
		s.more(len(v.Categories), shown, "categories")
	}

	s.blank()
	s.line("Recent Expenses:")
	shown := min(len(v.Expenses), TopItems)
	for _, e := range v.Expenses[:shown] {
		item := fmt.Sprintf("• %s: %s %s", Date(e.Date), e.Category, Currency(e.Amount))
		if e.Description != "" {
			item += " (" + e.Description + ")"
		}
		s.line("%s", item)
	}
	s.more(len(v.Expenses), shown, "expenses")
	return s.String()
}

func budgets(v handlers.BudgetSummary) string {
	if len(v.Budgets) == 0 {
		return EmptyBudgets
	}
	var s section
	s.line("Budget Overview:")
	s.line("• Total Budgeted: %s", Currency(v.TotalBudgeted))
	if v.IncludeSpent {
		used := 0.0
		if v.TotalBudgeted > 0 {
			used = v.TotalSpent / v.TotalBudgeted * 100
		}
		s.line("• Total Spent: %s (%s)", Currency(v.TotalSpent), Percent(used))
		s.line("• Remaining: %s", Currency(v.TotalBudgeted-v.TotalSpent))
	}

	s.blank()
	s.line("Budgets:")
	shown := min(len(v.Budgets), TopItems)
	for _, b := range v.Budgets[:shown] {
		item := fmt.Sprintf("• %s: %s", b.Category, Currency(b.Amount))
		if b.Period != "" {
			item += " " + b.Period
		}
		if v.IncludeSpent {
			if b.Remaining < 0 {
				item += fmt.Sprintf(", %s spent, over by %s", Currency(b.Spent), Currency(-b.Remaining))
			} else {
				item += fmt.Sprintf(", %s spent (%s), %s remaining", Currency(b.Spent), Percent(b.PercentUsed), Currency(b.Remaining))
			}
		}
		s.line("%s", item)
	}
	s.more(len(v.Budgets), shown, "budgets")
	return s.String()
}

func income(v handlers.IncomeSummary) string {
	if v.Count == 0 {
		return EmptyIncome
	}
	var s section
	s.line("Income Overview:")
	s.line("• Total Income: %s", Currency(v.Total))
	s.line("• Entries: %d", v.Count)
	s.line("• Average: %s", Currency(v.Total/float64(v.Count)))

	if len(v.ByType) > 0 {
		s.blank()
		s.line("By Type:")
		shown := min(len(v.ByType), TopCategories)
		for _, t := range v.ByType[:shown] {
			s.line("• %s: %s (%s)", Label(t.Type), Currency(t.Total), Plural(t.Count, "entry", "entries"))
		}
		s.more(len(v.ByType), shown, "types")
	}

	s.blank()
	s.line("Recent Income:")
	shown := min(len(v.Entries), TopItems)
	for _, in := range v.Entries[:shown] {
		s.line("• %s: %s %s", Date(in.Date), in.Source, Currency(in.Amount))
	}
	s.more(len(v.Entries), shown, "entries")
	return s.String()
}

func fuel(v handlers.FuelSummary) string {
	if v.Count == 0 {
		return EmptyFuel
	}
	var s section
	s.line("Fuel Overview:")
	s.line("• Total Cost: %s", Currency(v.TotalCost))
	s.line("• Fill-ups: %d", v.Count)
	s.line("• Total Volume: %s L", Number(v.TotalVolume))
	if v.AveragePrice > 0 {
		s.line("• Average Price: %s/L", Currency(v.AveragePrice))
	}
	s.line("• Average Fill-up: %s", Currency(v.AverageFillUp))
	if v.Distance > 0 {
		s.line("• Distance: %s km", Number(v.Distance))
	}
	if v.Efficiency > 0 {
		s.line("• Efficiency: %s km/L", Number(v.Efficiency))
	}

	s.blank()
	s.line("Recent Fill-ups:")
	shown := min(len(v.Purchases), TopItems)
	for _, p := range v.Purchases[:shown] {
		item := fmt.Sprintf("• %s: %s L for %s", Date(p.Date), Number(p.Volume), Currency(p.Cost))
		if p.Station != "" {
			item += " at " + p.Station
		}
		s.line("%s", item)
	}
	s.more(len(v.Purchases), shown, "fill-ups")
	return s.String()
}

func tripHistory(v handlers.TripHistory) string {
	if v.Count == 0 {
		return EmptyTrips
	}
	var s section
	s.line("Trip History:")
	s.line("• Total Trips: %d", v.Count)

	statuses := make([]string, 0, len(v.ByStatus))
	for status := range v.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, fmt.Sprintf("%s: %d", Label(status), v.ByStatus[status]))
	}
	if len(parts) > 0 {
		s.line("• %s", strings.Join(parts, ", "))
	}
	if v.TotalDistance > 0 {
		s.line("• Total Distance: %s km", Number(v.TotalDistance))
	}

	s.blank()
	s.line("Recent Trips:")
	shown := min(len(v.Trips), TopItems)
	for _, t := range v.Trips[:shown] {
		item := fmt.Sprintf("• %s (%s), %s", t.Name, Label(t.Status), Date(t.StartDate))
		if t.Destination != "" {
			item += " to " + t.Destination
		}
		s.line("%s", item)
	}
	s.more(len(v.Trips), shown, "trips")
	return s.String()
}

func tripDetails(v handlers.TripDetails) string {
	if !v.Found || v.Trip == nil {
		return EmptyTrip
	}
	t := v.Trip
	var s section
	s.line("Trip: %s", t.Name)
	s.line("• Status: %s", Label(t.Status))
	switch {
	case t.Origin != "" && t.Destination != "":
		s.line("• Route: %s to %s", t.Origin, t.Destination)
	case t.Destination != "":
		s.line("• Destination: %s", t.Destination)
	}
	if t.EndDate != nil {
		s.line("• Dates: %s to %s (%s)", Date(t.StartDate), Date(*t.EndDate), Plural(v.DurationDays, "day", "days"))
	} else {
		s.line("• Starts: %s", Date(t.StartDate))
	}
	if t.Distance > 0 {
		s.line("• Distance: %s km", Number(t.Distance))
	}
	if t.Budget > 0 {
		s.line("• Budget: %s", Currency(t.Budget))
	}
	if len(v.Expenses) > 0 {
		s.line("• Spent: %s across %s", Currency(v.TotalSpent), Plural(len(v.Expenses), "expense", "expenses"))
		if t.Budget > 0 {
			s.line("• Budget Remaining: %s", Currency(t.Budget-v.TotalSpent))
		}
	}
	if t.Notes != "" {
		s.line("• Notes: %s", t.Notes)
	}
	return s.String()
}

func profile(v handlers.ProfileData) string {
	if !v.Found || v.Profile == nil {
		return EmptyProfile
	}
	p := v.Profile
	var s section
	s.line("Profile:")
	s.line("• Name: %s", p.FullName)
	if p.Email != "" {
		s.line("• Email: %s", p.Email)
	}
	if p.Region != "" {
		s.line("• Region: %s", p.Region)
	}
	if p.TravelStyle != "" {
		s.line("• Travel Style: %s", Label(p.TravelStyle))
	}
	if !p.CreatedAt.IsZero() {
		s.line("• Member Since: %s", Date(p.CreatedAt))
	}

	if len(v.Vehicles) > 0 {
		s.blank()
		s.line("Vehicles:")
		shown := min(len(v.Vehicles), TopItems)
		for _, veh := range v.Vehicles[:shown] {
			var desc []string
			if veh.Year > 0 {
				desc = append(desc, fmt.Sprint(veh.Year))
			}
			if veh.Make != "" {
				desc = append(desc, veh.Make)
			}
			if veh.Model != "" {
				desc = append(desc, veh.Model)
			}
			item := "• " + veh.Name
			if len(desc) > 0 {
				item += " (" + strings.Join(desc, " ")
				if veh.FuelType != "" {
					item += ", " + veh.FuelType
				}
				item += ")"
			}
			s.line("%s", item)
		}
		s.more(len(v.Vehicles), shown, "vehicles")
	}
	return s.String()
}

func search(v handlers.SearchResults) string {
	if len(v.Hits) == 0 {
		return EmptySearch
	}
	var s section
	s.line("Found %s for %q:", Plural(len(v.Hits), "result", "results"), v.Query)
	shown := min(len(v.Hits), TopItems)
	for _, h := range v.Hits[:shown] {
		item := fmt.Sprintf("• %s: %s", Label(singular(string(h.Kind))), h.Title)
		if h.Amount != 0 {
			item += ", " + Currency(h.Amount)
		}
		item += " (" + Date(h.Date) + ")"
		s.line("%s", item)
	}
	s.more(len(v.Hits), shown, "results")
	return s.String()
}

func singular(kind string) string {
	switch kind {
	case "expenses":
		return "expense"
	case "trips":
		return "trip"
	default:
		return kind
	}
}
