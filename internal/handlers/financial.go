package handlers

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/haasonsaas/pam/internal/storage"
)

// CategoryTotal aggregates expenses for one category.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// ExpenseSummary is the data returned by getUserExpenses.
type ExpenseSummary struct {
	Expenses   []storage.Expense `json:"expenses"`
	Total      float64           `json:"total"`
	Count      int               `json:"count"`
	Average    float64           `json:"average"`
	Categories []CategoryTotal   `json:"categories"`
}

// BudgetStatus is one budget line, optionally with spend against it.
type BudgetStatus struct {
	Category    string  `json:"category"`
	Amount      float64 `json:"amount"`
	Period      string  `json:"period,omitempty"`
	Spent       float64 `json:"spent"`
	Remaining   float64 `json:"remaining"`
	PercentUsed float64 `json:"percent_used"`
}

// BudgetSummary is the data returned by getUserBudgets.
type BudgetSummary struct {
	Budgets       []BudgetStatus `json:"budgets"`
	TotalBudgeted float64        `json:"total_budgeted"`
	TotalSpent    float64        `json:"total_spent"`
	IncludeSpent  bool           `json:"include_spent"`
}

// TypeTotal aggregates income for one income type.
type TypeTotal struct {
	Type  string  `json:"type"`
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// IncomeSummary is the data returned by getIncomeData.
type IncomeSummary struct {
	Entries []storage.Income `json:"entries"`
	Total   float64          `json:"total"`
	Count   int              `json:"count"`
	ByType  []TypeTotal      `json:"by_type"`
}

// FuelSummary is the data returned by getFuelData.
type FuelSummary struct {
	Purchases     []storage.FuelPurchase `json:"purchases"`
	Count         int                    `json:"count"`
	TotalCost     float64                `json:"total_cost"`
	TotalVolume   float64                `json:"total_volume"`
	AveragePrice  float64                `json:"average_price"`
	Distance      float64                `json:"distance"`
	Efficiency    float64                `json:"efficiency"`
	AverageFillUp float64                `json:"average_fill_up"`
}

// ExpenseOptions are the normalised getUserExpenses arguments.
type ExpenseOptions struct {
	Category  string
	Range     storage.DateRange
	MinAmount *float64
	MaxAmount *float64
	Limit     int
}

// BudgetOptions are the normalised getUserBudgets arguments.
type BudgetOptions struct {
	Category     string
	IncludeSpent bool
}

// IncomeOptions are the normalised getIncomeData arguments.
type IncomeOptions struct {
	Type  string
	Range storage.DateRange
	Limit int
}

// FuelOptions are the normalised getFuelData arguments.
type FuelOptions struct {
	Range storage.DateRange
	Limit int
}

// Financial serves expenses, budgets, income and fuel.
type Financial struct {
	store  storage.Store
	logger *slog.Logger
}

// NewFinancial creates the financial handler group.
func NewFinancial(store storage.Store, logger *slog.Logger) *Financial {
	return &Financial{store: store, logger: loggerOrDefault(logger)}
}

// Expenses lists expenses and aggregates them by category.
func (f *Financial) Expenses(ctx context.Context, userID string, opts ExpenseOptions) Result {
	expenses, err := f.store.ListExpenses(ctx, userID, storage.ExpenseFilter{
		Category:  opts.Category,
		Range:     opts.Range,
		MinAmount: opts.MinAmount,
		MaxAmount: opts.MaxAmount,
		Limit:     ClampLimit(opts.Limit, DefaultLimit, MaxLimit),
	})
	if err != nil {
		return storeFailure(f.logger, "list expenses", userID, err,
			"I couldn't retrieve your expenses right now. Please try again.")
	}
	return OK(SummarizeExpenses(expenses))
}

// SummarizeExpenses computes totals and a per-category breakdown sorted by
// total descending, then name.
func SummarizeExpenses(expenses []storage.Expense) ExpenseSummary {
	summary := ExpenseSummary{Expenses: expenses, Count: len(expenses)}
	if summary.Expenses == nil {
		summary.Expenses = []storage.Expense{}
	}
	byCategory := make(map[string]*CategoryTotal)
	for _, e := range expenses {
		summary.Total += e.Amount
		key := strings.ToLower(e.Category)
		ct, ok := byCategory[key]
		if !ok {
			ct = &CategoryTotal{Category: e.Category}
			byCategory[key] = ct
		}
		ct.Total += e.Amount
		ct.Count++
	}
	if summary.Count > 0 {
		summary.Average = summary.Total / float64(summary.Count)
	}
	summary.Categories = make([]CategoryTotal, 0, len(byCategory))
	for _, ct := range byCategory {
		summary.Categories = append(summary.Categories, *ct)
	}
	sort.Slice(summary.Categories, func(i, j int) bool {
		a, b := summary.Categories[i], summary.Categories[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Category < b.Category
	})
	return summary
}

// Budgets lists budgets and, when asked, the spend recorded against each.
func (f *Financial) Budgets(ctx context.Context, userID string, opts BudgetOptions) Result {
	budgets, err := f.store.ListBudgets(ctx, userID, opts.Category)
	if err != nil {
		return storeFailure(f.logger, "list budgets", userID, err,
			"I couldn't retrieve your budgets right now. Please try again.")
	}

	var spent map[string]float64
	if opts.IncludeSpent && len(budgets) > 0 {
		spent, err = f.store.SpentByCategory(ctx, userID)
		if err != nil {
			return storeFailure(f.logger, "sum expenses", userID, err,
				"I couldn't calculate your budget spending right now. Please try again.")
		}
	}

	summary := BudgetSummary{Budgets: make([]BudgetStatus, 0, len(budgets)), IncludeSpent: opts.IncludeSpent}
	for _, b := range budgets {
		status := BudgetStatus{Category: b.Category, Amount: b.Amount, Period: b.Period, Remaining: b.Amount}
		if opts.IncludeSpent {
			status.Spent = spent[strings.ToLower(b.Category)]
			status.Remaining = b.Amount - status.Spent
			if b.Amount > 0 {
				status.PercentUsed = status.Spent / b.Amount * 100
			}
		}
		summary.TotalBudgeted += b.Amount
		summary.TotalSpent += status.Spent
		summary.Budgets = append(summary.Budgets, status)
	}
	return OK(summary)
}

// Income lists income entries and aggregates them by type.
func (f *Financial) Income(ctx context.Context, userID string, opts IncomeOptions) Result {
	entries, err := f.store.ListIncome(ctx, userID, storage.IncomeFilter{
		Type:  opts.Type,
		Range: opts.Range,
		Limit: ClampLimit(opts.Limit, DefaultLimit, MaxLimit),
	})
	if err != nil {
		return storeFailure(f.logger, "list income", userID, err,
			"I couldn't retrieve your income right now. Please try again.")
	}

	summary := IncomeSummary{Entries: entries, Count: len(entries)}
	if summary.Entries == nil {
		summary.Entries = []storage.Income{}
	}
	byType := make(map[string]*TypeTotal)
	for _, in := range entries {
		summary.Total += in.Amount
		tt, ok := byType[in.Type]
		if !ok {
			tt = &TypeTotal{Type: in.Type}
			byType[in.Type] = tt
		}
		tt.Total += in.Amount
		tt.Count++
	}
	summary.ByType = make([]TypeTotal, 0, len(byType))
	for _, tt := range byType {
		summary.ByType = append(summary.ByType, *tt)
	}
	sort.Slice(summary.ByType, func(i, j int) bool {
		a, b := summary.ByType[i], summary.ByType[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Type < b.Type
	})
	return OK(summary)
}

// Fuel lists fuel purchases with cost, volume and efficiency figures.
func (f *Financial) Fuel(ctx context.Context, userID string, opts FuelOptions) Result {
	purchases, err := f.store.ListFuel(ctx, userID, storage.FuelFilter{
		Range: opts.Range,
		Limit: ClampLimit(opts.Limit, DefaultLimit, MaxLimit),
	})
	if err != nil {
		return storeFailure(f.logger, "list fuel", userID, err,
			"I couldn't retrieve your fuel data right now. Please try again.")
	}

	summary := FuelSummary{Purchases: purchases, Count: len(purchases)}
	if summary.Purchases == nil {
		summary.Purchases = []storage.FuelPurchase{}
	}
	var minOdo, maxOdo float64
	for _, p := range purchases {
		summary.TotalCost += p.Cost
		summary.TotalVolume += p.Volume
		if p.Odometer > 0 {
			if minOdo == 0 || p.Odometer < minOdo {
				minOdo = p.Odometer
			}
			if p.Odometer > maxOdo {
				maxOdo = p.Odometer
			}
		}
	}
	if summary.TotalVolume > 0 {
		summary.AveragePrice = summary.TotalCost / summary.TotalVolume
	}
	if summary.Count > 0 {
		summary.AverageFillUp = summary.TotalCost / float64(summary.Count)
	}
	if maxOdo > minOdo {
		summary.Distance = maxOdo - minOdo
		// Full-tank method: the oldest fill-up only sets the baseline.
		burned := summary.TotalVolume - purchases[len(purchases)-1].Volume
		if burned > 0 {
			summary.Efficiency = summary.Distance / burned
		}
	}
	return OK(summary)
}
