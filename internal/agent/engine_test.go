package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/pam/internal/handlers"
	"github.com/haasonsaas/pam/internal/storage"
	"github.com/haasonsaas/pam/internal/tools"
	"github.com/haasonsaas/pam/internal/usage"
	"github.com/haasonsaas/pam/pkg/models"
)

type recordSink struct {
	mu      sync.Mutex
	records []usage.Record
}

func (s *recordSink) Record(r usage.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *recordSink) all() []usage.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]usage.Record(nil), s.records...)
}

type dispatchFunc func(ctx context.Context, def tools.Definition, params map[string]any, userID string) handlers.Result

func (f dispatchFunc) Route(ctx context.Context, def tools.Definition, params map[string]any, userID string) handlers.Result {
	return f(ctx, def, params, userID)
}

func seededStore() *storage.MemoryStore {
	store := storage.NewMemoryStore()
	store.AddExpenses(
		storage.Expense{ID: "e1", UserID: "user-1", Category: "Fuel", Amount: 20, Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		storage.Expense{ID: "e2", UserID: "user-1", Category: "Fuel", Amount: 25, Date: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		storage.Expense{ID: "e3", UserID: "user-1", Category: "Food", Amount: 12.5, Date: time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)},
		storage.Expense{ID: "e4", UserID: "user-2", Category: "Fuel", Amount: 99, Date: time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)},
	)
	return store
}

func newTestEngine(t *testing.T, router Dispatcher, cfg EngineConfig) (*Engine, *recordSink) {
	t.Helper()
	sink := &recordSink{}
	engine := NewEngine(EngineOptions{
		Router:   router,
		Recorder: sink,
		Config:   cfg,
	})
	return engine, sink
}

func TestEngine_ValidCall(t *testing.T) {
	engine, sink := newTestEngine(t, NewRouter(seededStore(), nil), EngineConfig{})

	req := models.NewToolExecutionRequest("getUserExpenses", map[string]any{"category": "Fuel", "limit": 10}, "user-1", "req-1")
	result := engine.Execute(context.Background(), req)

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	want := "Expense Overview:\n• Total Spent: $45.00\n• Transactions: 2"
	if !strings.HasPrefix(result.FormattedResponse, want) {
		t.Errorf("formatted response = %q, want prefix %q", result.FormattedResponse, want)
	}
	if result.RequestID != "req-1" || result.UserID != "user-1" || result.ToolName != "getUserExpenses" {
		t.Errorf("correlation fields not carried: %+v", result)
	}
	summary, ok := result.Data.(handlers.ExpenseSummary)
	if !ok || summary.Count != 2 {
		t.Errorf("unexpected data: %#v", result.Data)
	}

	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("usage records = %d, want 1", len(records))
	}
	rec := records[0]
	if !rec.Success || rec.ParameterCount != 2 || rec.DataSize == 0 || rec.RequestID != "req-1" {
		t.Errorf("unexpected usage record: %+v", rec)
	}
}

func TestEngine_TerminalStates(t *testing.T) {
	closed := storage.NewMemoryStore()
	_ = closed.Close()

	panicky := dispatchFunc(func(context.Context, tools.Definition, map[string]any, string) handlers.Result {
		panic("nil map write")
	})

	tests := []struct {
		name        string
		router      Dispatcher
		tool        string
		params      map[string]any
		wantKind    models.ToolErrorKind
		wantMessage string
	}{
		{
			name:        "unknown tool",
			router:      NewRouter(seededStore(), nil),
			tool:        "getWeather",
			wantKind:    models.ToolErrorNotFound,
			wantMessage: "Tool 'getWeather' not found",
		},
		{
			name:        "bad enum",
			router:      NewRouter(seededStore(), nil),
			tool:        "getIncomeData",
			params:      map[string]any{"income_type": "bogus"},
			wantKind:    models.ToolErrorInvalidParameters,
			wantMessage: "salary, freelance, business, investment, rental, other",
		},
		{
			name:        "routing gap",
			router:      NewRouter(seededStore(), nil),
			tool:        "getCalendarEvents",
			wantKind:    models.ToolErrorNotImplemented,
			wantMessage: "The getCalendarEvents tool is not available yet.",
		},
		{
			name:        "handler failure",
			router:      NewRouter(closed, nil),
			tool:        "getUserExpenses",
			wantKind:    models.ToolErrorHandlerFailed,
			wantMessage: "I couldn't retrieve your expenses right now",
		},
		{
			name:        "unexpected fault",
			router:      panicky,
			tool:        "getUserBudgets",
			wantKind:    models.ToolErrorInternal,
			wantMessage: MessageUnexpected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, sink := newTestEngine(t, tt.router, EngineConfig{})

			result := engine.Execute(context.Background(),
				models.NewToolExecutionRequest(tt.tool, tt.params, "user-1", ""))

			if result.Success {
				t.Fatal("expected failure")
			}
			if result.Data != nil || result.FormattedResponse != "" {
				t.Errorf("failed result must carry no data: %+v", result)
			}
			if result.ErrorKind != tt.wantKind {
				t.Errorf("ErrorKind = %q, want %q", result.ErrorKind, tt.wantKind)
			}
			if !strings.Contains(result.Message, tt.wantMessage) {
				t.Errorf("Message = %q, want it to contain %q", result.Message, tt.wantMessage)
			}
			if strings.Contains(result.Message, "store closed") || strings.Contains(result.Error, "store closed") {
				t.Errorf("internal error leaked to caller: %+v", result)
			}
			if result.RequestID == "" {
				t.Error("request ID should be generated")
			}

			records := sink.all()
			if len(records) != 1 {
				t.Fatalf("usage records = %d, want exactly 1", len(records))
			}
			if records[0].Success != result.Success || records[0].ErrorKind != string(tt.wantKind) {
				t.Errorf("usage record disagrees with result: %+v", records[0])
			}
		})
	}
}

func TestEngine_ValidationErrorsAreComplete(t *testing.T) {
	engine, _ := newTestEngine(t, NewRouter(seededStore(), nil), EngineConfig{})
	result := engine.Execute(context.Background(), models.NewToolExecutionRequest(
		"getUserExpenses",
		map[string]any{"start_date": "2024-02-30", "limit": 500, "min_amount": "ten"},
		"user-1", ""))

	if result.ErrorKind != models.ToolErrorInvalidParameters {
		t.Fatalf("ErrorKind = %q", result.ErrorKind)
	}
	if len(result.ValidationErrors) != 3 {
		t.Fatalf("expected 3 violations, got %+v", result.ValidationErrors)
	}
	got := []string{}
	for _, v := range result.ValidationErrors {
		got = append(got, v.Parameter)
	}
	if strings.Join(got, ",") != "limit,min_amount,start_date" {
		t.Errorf("violations = %v", got)
	}
}

func TestEngine_BusyWhenUserSaturated(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	router := dispatchFunc(func(ctx context.Context, def tools.Definition, params map[string]any, userID string) handlers.Result {
		if userID == "user-a" {
			entered <- struct{}{}
			<-release
		}
		return handlers.OK(map[string]any{"ok": true})
	})
	engine, sink := newTestEngine(t, router, EngineConfig{
		MaxConcurrentPerUser: 1,
		QueueTimeout:         20 * time.Millisecond,
	})

	first := make(chan models.ToolExecutionResult, 1)
	go func() {
		first <- engine.Execute(context.Background(), models.NewToolExecutionRequest("getUserBudgets", nil, "user-a", ""))
	}()
	<-entered

	busy := engine.Execute(context.Background(), models.NewToolExecutionRequest("getUserBudgets", nil, "user-a", ""))
	if busy.ErrorKind != models.ToolErrorBusy || busy.Message != MessageBusy {
		t.Errorf("expected busy result, got %+v", busy)
	}

	other := engine.Execute(context.Background(), models.NewToolExecutionRequest("getUserBudgets", nil, "user-b", ""))
	if !other.Success {
		t.Errorf("another user's call should not be limited: %+v", other)
	}

	if stats := engine.LimiterStats()["user-a"]; stats.Active != 1 || stats.Max != 1 {
		t.Errorf("limiter stats = %+v", stats)
	}

	close(release)
	if res := <-first; !res.Success {
		t.Errorf("first call should succeed: %+v", res)
	}
	if len(engine.LimiterStats()) != 0 {
		t.Errorf("idle users should be dropped from the limiter: %v", engine.LimiterStats())
	}
	if n := len(sink.all()); n != 3 {
		t.Errorf("usage records = %d, want 3", n)
	}
}

func TestEngine_ToolTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	router := dispatchFunc(func(context.Context, tools.Definition, map[string]any, string) handlers.Result {
		<-release
		return handlers.OK(nil)
	})
	engine, sink := newTestEngine(t, router, EngineConfig{ToolTimeout: 20 * time.Millisecond})

	result := engine.Execute(context.Background(), models.NewToolExecutionRequest("getFuelData", nil, "user-1", ""))
	if result.ErrorKind != models.ToolErrorHandlerFailed || result.Message != MessageTimeout {
		t.Errorf("expected timeout result, got %+v", result)
	}
	if len(sink.all()) != 1 {
		t.Errorf("expected one usage record")
	}
}

func TestEngine_TimedOutHandlerKeepsSlot(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	router := dispatchFunc(func(context.Context, tools.Definition, map[string]any, string) handlers.Result {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		return handlers.OK(nil)
	})
	engine, _ := newTestEngine(t, router, EngineConfig{
		MaxConcurrentPerUser: 1,
		QueueTimeout:         20 * time.Millisecond,
		ToolTimeout:          10 * time.Millisecond,
	})

	var kinds []models.ToolErrorKind
	for range 5 {
		res := engine.Execute(context.Background(), models.NewToolExecutionRequest("getFuelData", nil, "user-1", ""))
		kinds = append(kinds, res.ErrorKind)
	}
	if kinds[0] != models.ToolErrorHandlerFailed {
		t.Errorf("first call kind = %q, want handler_failed", kinds[0])
	}
	for i, kind := range kinds[1:] {
		if kind != models.ToolErrorBusy {
			t.Errorf("call %d kind = %q, want busy while the timed-out handler runs", i+2, kind)
		}
	}
	if got := peak.Load(); got != 1 {
		t.Errorf("handlers running at once = %d, want 1", got)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for len(engine.LimiterStats()) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if stats := engine.LimiterStats(); len(stats) != 0 {
		t.Fatalf("slot not released after the handler returned: %v", stats)
	}
	if res := engine.Execute(context.Background(), models.NewToolExecutionRequest("getFuelData", nil, "user-1", "")); !res.Success {
		t.Errorf("call after release = %+v", res)
	}
}

func TestEngine_CanceledBeforeRouting(t *testing.T) {
	called := false
	router := dispatchFunc(func(context.Context, tools.Definition, map[string]any, string) handlers.Result {
		called = true
		return handlers.OK(nil)
	})
	engine, sink := newTestEngine(t, router, EngineConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := engine.Execute(ctx, models.NewToolExecutionRequest("getFuelData", nil, "user-1", ""))

	if result.ErrorKind != models.ToolErrorCanceled {
		t.Errorf("ErrorKind = %q, want canceled", result.ErrorKind)
	}
	if called {
		t.Error("handler should not run for a canceled request")
	}
	if len(sink.all()) != 1 {
		t.Error("canceled requests still produce a usage record")
	}
}

func TestEngine_ExecuteBatchPreservesOrder(t *testing.T) {
	router := dispatchFunc(func(ctx context.Context, def tools.Definition, params map[string]any, userID string) handlers.Result {
		// Later calls finish first.
		if def.Name == tools.GetUserBudgets {
			time.Sleep(20 * time.Millisecond)
		}
		return handlers.OK([]string{string(def.Name)})
	})
	engine, sink := newTestEngine(t, router, EngineConfig{})

	reqs := []models.ToolExecutionRequest{
		models.NewToolExecutionRequest("getUserBudgets", nil, "user-1", "a"),
		models.NewToolExecutionRequest("nope", nil, "user-1", "b"),
		models.NewToolExecutionRequest("getFuelData", nil, "user-1", "c"),
	}
	results := engine.ExecuteBatch(context.Background(), reqs)

	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	for i, r := range results {
		if r.RequestID != reqs[i].RequestID {
			t.Errorf("result %d has request %q, want %q", i, r.RequestID, reqs[i].RequestID)
		}
	}
	if results[1].ErrorKind != models.ToolErrorNotFound {
		t.Errorf("unknown tool in batch should fail alone: %+v", results[1])
	}
	if len(sink.all()) != 3 {
		t.Errorf("expected one usage record per call")
	}
}

func TestEngine_GeneratesRequestID(t *testing.T) {
	engine, _ := newTestEngine(t, NewRouter(seededStore(), nil), EngineConfig{})
	result := engine.Execute(context.Background(), models.ToolExecutionRequest{ToolName: "getUserProfile", UserID: "user-1"})
	if result.RequestID == "" {
		t.Error("expected generated request ID")
	}
}

func TestEngine_ExecuteCall(t *testing.T) {
	engine, _ := newTestEngine(t, NewRouter(seededStore(), nil), EngineConfig{})
	result := engine.ExecuteCall(context.Background(), models.ToolCall{
		ToolName:   "getUserExpenses",
		Parameters: map[string]any{"category": "food"},
		RequestID:  "call-1",
	}, "user-1")
	if !result.Success || result.RequestID != "call-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if summary := result.Data.(handlers.ExpenseSummary); summary.Total != 12.5 {
		t.Errorf("total = %v, want 12.5", summary.Total)
	}
}

func TestToolError(t *testing.T) {
	err := notFoundError("getWeather")
	if !errors.Is(err, ErrToolNotFound) {
		t.Error("not found error should wrap ErrToolNotFound")
	}
	if err.Kind != models.ToolErrorNotFound {
		t.Errorf("Kind = %q", err.Kind)
	}
	if !strings.Contains(err.Error(), "[tool:not_found] getWeather") {
		t.Errorf("Error() = %q", err.Error())
	}

	timeout := contextError("getFuelData", context.DeadlineExceeded)
	if !errors.Is(timeout, ErrToolTimeout) || timeout.Kind != models.ToolErrorHandlerFailed {
		t.Errorf("deadline should map to a handler timeout: %+v", timeout)
	}
	canceled := contextError("getFuelData", context.Canceled)
	if canceled.Kind != models.ToolErrorCanceled {
		t.Errorf("cancel should map to canceled: %+v", canceled)
	}

	gap := handlerError("getCalendarEvents", handlers.NotImplemented("getCalendarEvents"))
	if gap.Kind != models.ToolErrorNotImplemented || !errors.Is(gap, ErrNotImplemented) {
		t.Errorf("routing gap misclassified: %+v", gap)
	}
}
