package agent

import (
	"context"
	"testing"

	"github.com/haasonsaas/pam/internal/handlers"
	"github.com/haasonsaas/pam/internal/storage"
	"github.com/haasonsaas/pam/internal/tools"
)

// requiredArgs supplies a placeholder for every required parameter.
func requiredArgs(def tools.Definition) map[string]any {
	params := map[string]any{}
	for _, name := range def.RequiredParameters() {
		params[name] = "x"
	}
	return params
}

func TestRouter_EveryCatalogToolHasAnArm(t *testing.T) {
	router := NewRouter(storage.NewMemoryStore(), nil)
	placeholders := map[tools.ToolName]bool{tools.GetCalendarEvents: true}

	for _, def := range tools.Catalog() {
		t.Run(string(def.Name), func(t *testing.T) {
			res := router.Route(context.Background(), def, requiredArgs(def), "user-1")
			if placeholders[def.Name] {
				if !res.IsNotImplemented() {
					t.Errorf("expected explicit not-implemented placeholder, got %+v", res)
				}
				return
			}
			if res.IsNotImplemented() {
				t.Errorf("%s is registered but not routed", def.Name)
			}
			if !res.Success {
				t.Errorf("empty store should still succeed: %+v", res)
			}
		})
	}
}

func TestRouter_UnknownDefinition(t *testing.T) {
	router := NewRouter(storage.NewMemoryStore(), nil)
	res := router.Route(context.Background(), tools.Definition{Name: "getWeather"}, nil, "user-1")
	if !res.IsNotImplemented() {
		t.Errorf("expected not implemented, got %+v", res)
	}
}

func TestRouter_NormalisesArguments(t *testing.T) {
	store := storage.NewMemoryStore()
	for i := 0; i < 5; i++ {
		store.AddExpenses(storage.Expense{ID: string(rune('a' + i)), UserID: "user-1", Category: "Food", Amount: float64(10 * (i + 1))})
	}
	router := NewRouter(store, nil)
	def, _ := tools.DefaultRegistry().Get(string(tools.GetUserExpenses))

	// JSON numbers decode as float64.
	res := router.Route(context.Background(), def, map[string]any{
		"category":   "  food ",
		"min_amount": float64(20),
		"limit":      float64(2),
	}, "user-1")
	if !res.Success {
		t.Fatalf("route failed: %+v", res)
	}
	summary := res.Data.(handlers.ExpenseSummary)
	if summary.Count != 2 {
		t.Errorf("limit not applied: count = %d", summary.Count)
	}
	for _, e := range summary.Expenses {
		if e.Amount < 20 {
			t.Errorf("min_amount not applied: %+v", e)
		}
	}
}

func TestRouter_BadDates(t *testing.T) {
	router := NewRouter(storage.NewMemoryStore(), nil)
	def, _ := tools.DefaultRegistry().Get(string(tools.GetFuelData))
	res := router.Route(context.Background(), def, map[string]any{"start_date": "03/01/2024"}, "user-1")
	if res.Success || res.Message != "Please provide dates in YYYY-MM-DD format." {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestArgHelpers(t *testing.T) {
	params := map[string]any{"s": " x ", "b": true, "n": float64(3.9), "i": 7, "bad": "7"}
	if stringArg(params, "s") != "x" || stringArg(params, "missing") != "" {
		t.Error("stringArg")
	}
	if !boolArg(params, "b") || boolArg(params, "s") {
		t.Error("boolArg")
	}
	if intArg(params, "n") != 3 || intArg(params, "i") != 7 || intArg(params, "bad") != 0 {
		t.Error("intArg")
	}
	if f := floatArg(params, "n"); f == nil || *f != 3.9 {
		t.Error("floatArg")
	}
	if floatArg(params, "missing") != nil {
		t.Error("floatArg should be nil when absent")
	}
}
