package usage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/pam/internal/storage"
)

func TestStats_Add(t *testing.T) {
	var s Stats
	s.Add(Record{Success: true, ExecutionTimeMs: 10, DataSize: 100})
	s.Add(Record{Success: false, ExecutionTimeMs: 30})

	if s.Calls != 2 || s.Successes != 1 || s.Failures != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.AverageMs() != 20 {
		t.Errorf("AverageMs() = %d, want 20", s.AverageMs())
	}
	if s.SuccessRate() != 50 {
		t.Errorf("SuccessRate() = %v, want 50", s.SuccessRate())
	}
	if s.DataBytes != 100 {
		t.Errorf("DataBytes = %d, want 100", s.DataBytes)
	}
}

func TestTracker_Record(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())

	tracker.Record(Record{ToolName: "getUserExpenses", UserID: "user1", Success: true, ExecutionTimeMs: 12})
	tracker.Record(Record{ToolName: "getUserExpenses", UserID: "user1", Success: false, ErrorKind: "handler_failed"})
	tracker.Record(Record{ToolName: "nope", UserID: "user2", Success: false, ErrorKind: "not_found"})

	stats, ok := tracker.ToolStats("getUserExpenses")
	if !ok {
		t.Fatal("expected tool stats")
	}
	if stats.Calls != 2 || stats.Successes != 1 {
		t.Errorf("unexpected tool stats: %+v", stats)
	}

	userStats, ok := tracker.UserStats("user1")
	if !ok || userStats.Calls != 2 {
		t.Errorf("unexpected user stats: %+v", userStats)
	}

	summary := tracker.Summary()
	if summary.Total.Calls != 3 || summary.Users != 2 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.ByTool[0].Tool != "getUserExpenses" {
		t.Errorf("busiest tool should sort first, got %s", summary.ByTool[0].Tool)
	}
	if summary.ErrorKinds["not_found"] != 1 || summary.ErrorKinds["handler_failed"] != 1 {
		t.Errorf("unexpected error kinds: %v", summary.ErrorKinds)
	}
}

func TestTracker_Recent(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	for i := 0; i < 5; i++ {
		tracker.Record(Record{RequestID: string(rune('A' + i)), ToolName: "t"})
	}

	records := tracker.Recent(3)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].RequestID != "C" {
		t.Errorf("first record = %s, want C", records[0].RequestID)
	}
}

func TestTracker_PruneKeepsAggregates(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(TrackerConfig{MaxAge: time.Hour, MaxCount: 100})
	tracker.now = func() time.Time { return now }

	tracker.Record(Record{ToolName: "t", Timestamp: now.Add(-30 * time.Minute)})
	tracker.Record(Record{ToolName: "t", Timestamp: now.Add(-10 * time.Minute)})

	now = now.Add(45 * time.Minute)
	if removed := tracker.Prune(); removed != 1 {
		t.Fatalf("Prune() removed %d, want 1", removed)
	}
	if len(tracker.Recent(0)) != 1 {
		t.Errorf("expected 1 recent record")
	}
	if stats, _ := tracker.ToolStats("t"); stats.Calls != 2 {
		t.Errorf("aggregates should survive pruning, got %d calls", stats.Calls)
	}
}

func TestTracker_MaxCount(t *testing.T) {
	tracker := NewTracker(TrackerConfig{MaxCount: 3})
	for i := 0; i < 10; i++ {
		tracker.Record(Record{ToolName: "t"})
	}
	if n := len(tracker.Recent(0)); n != 3 {
		t.Errorf("expected 3 retained records, got %d", n)
	}
}

func TestMulti(t *testing.T) {
	var got []string
	m := Multi{
		RecorderFunc(func(r Record) { got = append(got, "a:"+r.ToolName) }),
		nil,
		RecorderFunc(func(r Record) { got = append(got, "b:"+r.ToolName) }),
	}
	m.Record(Record{ToolName: "x"})
	if strings.Join(got, ",") != "a:x,b:x" {
		t.Errorf("unexpected fan-out: %v", got)
	}
}

type fakeObserver struct {
	tool, outcome string
	duration      time.Duration
}

func (f *fakeObserver) ObserveToolExecution(tool, outcome string, d time.Duration, _ int) {
	f.tool, f.outcome, f.duration = tool, outcome, d
}

func TestMetricsSink(t *testing.T) {
	obs := &fakeObserver{}
	sink := NewMetricsSink(obs)

	sink.Record(Record{ToolName: "getFuelData", Success: true, ExecutionTimeMs: 250})
	if obs.outcome != "success" || obs.duration != 250*time.Millisecond {
		t.Errorf("unexpected observation: %+v", obs)
	}
	sink.Record(Record{ToolName: "getFuelData", ErrorKind: "invalid_parameters"})
	if obs.outcome != "invalid_parameters" {
		t.Errorf("outcome = %q, want invalid_parameters", obs.outcome)
	}
}

// blockingSink blocks every write until release is closed.
type blockingSink struct {
	mu      sync.Mutex
	release chan struct{}
	written []Record
}

func (b *blockingSink) Write(ctx context.Context, r Record) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.written = append(b.written, r)
	return nil
}

func TestAsync_NeverBlocks(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	var drops int
	var dropMu sync.Mutex
	async := NewAsync(sink, AsyncConfig{Buffer: 2, OnDrop: func() {
		dropMu.Lock()
		drops++
		dropMu.Unlock()
	}}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			async.Record(Record{ToolName: "t"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked with a stalled sink")
	}

	// At most one in flight plus two buffered can be accepted.
	if async.Dropped() < 7 {
		t.Errorf("Dropped() = %d, want at least 7", async.Dropped())
	}

	close(sink.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := async.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	sink.mu.Lock()
	written := len(sink.written)
	sink.mu.Unlock()
	if int64(written)+async.Dropped() != 10 {
		t.Errorf("written %d + dropped %d != 10", written, async.Dropped())
	}
	dropMu.Lock()
	if int64(drops) != async.Dropped() {
		t.Errorf("OnDrop called %d times, Dropped() = %d", drops, async.Dropped())
	}
	dropMu.Unlock()

	async.Record(Record{ToolName: "late"})
	if async.Dropped() != int64(10-written)+1 {
		t.Errorf("records after Close should be dropped")
	}
}

func TestSQLSink_Write(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	dialect, _ := storage.DialectFor("postgres")
	sink := NewSQLSink(db, dialect)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO tool_usage`).
		WithArgs("req-1", "getUserExpenses", "user-1", ts, int64(42), true, 2, 128, "", "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = sink.Write(context.Background(), Record{
		RequestID: "req-1", ToolName: "getUserExpenses", UserID: "user-1", Timestamp: ts,
		ExecutionTimeMs: 42, Success: true, ParameterCount: 2, DataSize: 128,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	mock.ExpectExec(`INSERT INTO tool_usage`).WillReturnError(errors.New("disk full"))
	if err := sink.Write(context.Background(), Record{Timestamp: ts}); err == nil || !strings.Contains(err.Error(), "insert usage record") {
		t.Errorf("expected wrapped error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLSink_Prune(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	dialect, _ := storage.DialectFor("sqlite")
	sink := NewSQLSink(db, dialect)
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM tool_usage WHERE created_at < \?`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := sink.Prune(context.Background(), cutoff)
	if err != nil || n != 4 {
		t.Fatalf("Prune() = %d, %v", n, err)
	}
}

func TestFormatStats(t *testing.T) {
	if got := FormatStats(Stats{}); got != "no calls" {
		t.Errorf("FormatStats(empty) = %q", got)
	}
	got := FormatStats(Stats{Calls: 4, Successes: 3, TotalTimeMs: 200})
	if got != "4 calls, 75% ok, avg 50ms" {
		t.Errorf("FormatStats() = %q", got)
	}
	out := FormatSummary(Summary{Total: Stats{Calls: 1, Successes: 1}, ErrorKinds: map[string]int64{"busy": 2}})
	if !strings.Contains(out, "Total: 1 call, 100% ok") || !strings.Contains(out, "busy") {
		t.Errorf("FormatSummary() = %q", out)
	}
}
