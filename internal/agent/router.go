package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/haasonsaas/pam/internal/handlers"
	"github.com/haasonsaas/pam/internal/storage"
	"github.com/haasonsaas/pam/internal/tools"
)

// Dispatcher routes a validated call to its domain handler.
type Dispatcher interface {
	Route(ctx context.Context, def tools.Definition, params map[string]any, userID string) handlers.Result
}

// Router dispatches each tool in the catalog to exactly one handler.
type Router struct {
	financial *handlers.Financial
	trips     *handlers.Trips
	profile   *handlers.Profile
	search    *handlers.Search
}

// NewRouter builds the handler groups over store.
func NewRouter(store storage.Store, logger *slog.Logger) *Router {
	return &Router{
		financial: handlers.NewFinancial(store, logger),
		trips:     handlers.NewTrips(store, logger),
		profile:   handlers.NewProfile(store, logger),
		search:    handlers.NewSearch(store, logger),
	}
}

// Route normalises params for def's handler and invokes it. Every ToolName
// constant has an arm here; registered tools without a handler return
// handlers.NotImplemented.
func (r *Router) Route(ctx context.Context, def tools.Definition, params map[string]any, userID string) handlers.Result {
	switch def.Name {
	case tools.GetUserExpenses:
		rng, err := dateRange(params)
		if err != nil {
			return badDates(err)
		}
		return r.financial.Expenses(ctx, userID, handlers.ExpenseOptions{
			Category:  stringArg(params, "category"),
			Range:     rng,
			MinAmount: floatArg(params, "min_amount"),
			MaxAmount: floatArg(params, "max_amount"),
			Limit:     intArg(params, "limit"),
		})

	case tools.GetUserBudgets:
		return r.financial.Budgets(ctx, userID, handlers.BudgetOptions{
			Category:     stringArg(params, "category"),
			IncludeSpent: boolArg(params, "include_spent"),
		})

	case tools.GetIncomeData:
		rng, err := dateRange(params)
		if err != nil {
			return badDates(err)
		}
		return r.financial.Income(ctx, userID, handlers.IncomeOptions{
			Type:  stringArg(params, "income_type"),
			Range: rng,
			Limit: intArg(params, "limit"),
		})

	case tools.GetFuelData:
		rng, err := dateRange(params)
		if err != nil {
			return badDates(err)
		}
		return r.financial.Fuel(ctx, userID, handlers.FuelOptions{
			Range: rng,
			Limit: intArg(params, "limit"),
		})

	case tools.GetTripHistory:
		rng, err := dateRange(params)
		if err != nil {
			return badDates(err)
		}
		return r.trips.History(ctx, userID, handlers.TripHistoryOptions{
			Status: stringArg(params, "status"),
			Range:  rng,
			Limit:  intArg(params, "limit"),
		})

	case tools.GetTripDetails:
		return r.trips.Details(ctx, userID, handlers.TripDetailsOptions{
			TripID: stringArg(params, "trip_id"),
		})

	case tools.GetUserProfile:
		return r.profile.Get(ctx, userID, handlers.ProfileOptions{
			IncludeVehicles: boolArg(params, "include_vehicles"),
		})

	case tools.SearchUserData:
		return r.search.Query(ctx, userID, handlers.SearchOptions{
			Query: stringArg(params, "query"),
			Scope: stringArg(params, "scope"),
			Limit: intArg(params, "limit"),
		})

	case tools.GetCalendarEvents:
		// The calendar tool is declared but has no handler.
		return handlers.NotImplemented(string(def.Name))

	default:
		return handlers.NotImplemented(string(def.Name))
	}
}

func badDates(err error) handlers.Result {
	return handlers.Failed(err, "Please provide dates in YYYY-MM-DD format.")
}

func dateRange(params map[string]any) (storage.DateRange, error) {
	return handlers.Range(stringArg(params, "start_date"), stringArg(params, "end_date"))
}

func stringArg(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

func boolArg(params map[string]any, key string) bool {
	b, _ := params[key].(bool)
	return b
}

func intArg(params map[string]any, key string) int {
	f, ok := tools.Number(params[key])
	if !ok {
		return 0
	}
	return int(f)
}

func floatArg(params map[string]any, key string) *float64 {
	f, ok := tools.Number(params[key])
	if !ok {
		return nil
	}
	return &f
}
