package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/haasonsaas/pam/internal/storage"
)

// TripHistory is the data returned by getTripHistory.
type TripHistory struct {
	Trips         []storage.Trip `json:"trips"`
	Count         int            `json:"count"`
	ByStatus      map[string]int `json:"by_status"`
	TotalDistance float64        `json:"total_distance"`
}

// TripDetails is the data returned by getTripDetails.
type TripDetails struct {
	Found        bool              `json:"found"`
	TripID       string            `json:"trip_id"`
	Trip         *storage.Trip     `json:"trip,omitempty"`
	Expenses     []storage.Expense `json:"expenses,omitempty"`
	TotalSpent   float64           `json:"total_spent"`
	DurationDays int               `json:"duration_days"`
}

// TripHistoryOptions are the normalised getTripHistory arguments.
type TripHistoryOptions struct {
	Status string
	Range  storage.DateRange
	Limit  int
}

// TripDetailsOptions are the normalised getTripDetails arguments.
type TripDetailsOptions struct {
	TripID string
}

// Trips serves trip history and trip details.
type Trips struct {
	store  storage.Store
	logger *slog.Logger
}

// NewTrips creates the trip handler group.
func NewTrips(store storage.Store, logger *slog.Logger) *Trips {
	return &Trips{store: store, logger: loggerOrDefault(logger)}
}

// History lists trips newest first with per-status counts.
func (t *Trips) History(ctx context.Context, userID string, opts TripHistoryOptions) Result {
	trips, err := t.store.ListTrips(ctx, userID, storage.TripFilter{
		Status: opts.Status,
		Range:  opts.Range,
		Limit:  ClampLimit(opts.Limit, DefaultLimit, MaxLimit),
	})
	if err != nil {
		return storeFailure(t.logger, "list trips", userID, err,
			"I couldn't retrieve your trips right now. Please try again.")
	}

	history := TripHistory{Trips: trips, Count: len(trips), ByStatus: make(map[string]int)}
	if history.Trips == nil {
		history.Trips = []storage.Trip{}
	}
	for _, trip := range trips {
		history.ByStatus[trip.Status]++
		history.TotalDistance += trip.Distance
	}
	return OK(history)
}

// Details returns one trip and the expenses recorded during it. A missing
// trip is a successful, empty answer rather than a failure.
func (t *Trips) Details(ctx context.Context, userID string, opts TripDetailsOptions) Result {
	trip, err := t.store.GetTrip(ctx, userID, opts.TripID)
	if errors.Is(err, storage.ErrNotFound) {
		return OK(TripDetails{Found: false, TripID: opts.TripID})
	}
	if err != nil {
		return storeFailure(t.logger, "get trip", userID, err,
			"I couldn't retrieve that trip right now. Please try again.")
	}

	details := TripDetails{Found: true, TripID: trip.ID, Trip: trip}
	if trip.EndDate != nil {
		details.DurationDays = int(trip.EndDate.Sub(trip.StartDate).Hours()/24) + 1
		start := trip.StartDate
		expenses, err := t.store.ListExpenses(ctx, userID, storage.ExpenseFilter{
			Range: storage.DateRange{From: &start, To: trip.EndDate},
			Limit: MaxLimit,
		})
		if err != nil {
			return storeFailure(t.logger, "list trip expenses", userID, err,
				"I couldn't retrieve the expenses for that trip right now. Please try again.")
		}
		details.Expenses = expenses
		for _, e := range expenses {
			details.TotalSpent += e.Amount
		}
	}
	return OK(details)
}
