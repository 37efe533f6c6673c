// Package usage records one telemetry entry per tool execution and keeps
// in-memory aggregates of them.
package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Record is the write-once telemetry entry for one tool execution.
type Record struct {
	ToolName        string    `json:"tool_name"`
	UserID          string    `json:"user_id"`
	RequestID       string    `json:"request_id"`
	Timestamp       time.Time `json:"timestamp"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Success         bool      `json:"success"`
	ParameterCount  int       `json:"parameter_count"`
	DataSize        int       `json:"data_size"`
	Error           string    `json:"error,omitempty"`
	ErrorKind       string    `json:"error_kind,omitempty"`
}

// Recorder accepts usage records. Implementations must not block the caller.
type Recorder interface {
	Record(r Record)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Record)

func (f RecorderFunc) Record(r Record) { f(r) }

// Sink persists records and may block; wrap it in Async before handing it to
// the execution engine.
type Sink interface {
	Write(ctx context.Context, r Record) error
}

// Nop discards records.
var Nop Recorder = RecorderFunc(func(Record) {})

// Stats aggregates a set of records.
type Stats struct {
	Calls       int64 `json:"calls"`
	Successes   int64 `json:"successes"`
	Failures    int64 `json:"failures"`
	TotalTimeMs int64 `json:"total_time_ms"`
	DataBytes   int64 `json:"data_bytes"`
}

// Add folds a record into the stats.
func (s *Stats) Add(r Record) {
	s.Calls++
	if r.Success {
		s.Successes++
	} else {
		s.Failures++
	}
	s.TotalTimeMs += r.ExecutionTimeMs
	s.DataBytes += int64(r.DataSize)
}

// AverageMs returns the mean execution time.
func (s Stats) AverageMs() int64 {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalTimeMs / s.Calls
}

// SuccessRate returns the percentage of successful calls.
func (s Stats) SuccessRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Calls) * 100
}

// Tracker keeps usage aggregates in memory.
type Tracker struct {
	mu       sync.RWMutex
	records  []Record
	total    Stats
	byTool   map[string]*Stats
	byUser   map[string]*Stats
	byKind   map[string]int64
	maxAge   time.Duration
	maxCount int
	now      func() time.Time
}

// TrackerConfig configures the usage tracker.
type TrackerConfig struct {
	MaxAge   time.Duration
	MaxCount int
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxAge:   24 * time.Hour,
		MaxCount: 10000,
	}
}

// NewTracker creates a new usage tracker.
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.MaxCount <= 0 {
		config.MaxCount = 10000
	}

	return &Tracker{
		records:  make([]Record, 0),
		byTool:   make(map[string]*Stats),
		byUser:   make(map[string]*Stats),
		byKind:   make(map[string]int64),
		maxAge:   config.MaxAge,
		maxCount: config.MaxCount,
		now:      time.Now,
	}
}

// Record adds a usage record.
func (t *Tracker) Record(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = t.now()
	}

	t.records = append(t.records, r)
	t.total.Add(r)

	if t.byTool[r.ToolName] == nil {
		t.byTool[r.ToolName] = &Stats{}
	}
	t.byTool[r.ToolName].Add(r)

	if r.UserID != "" {
		if t.byUser[r.UserID] == nil {
			t.byUser[r.UserID] = &Stats{}
		}
		t.byUser[r.UserID].Add(r)
	}
	if r.ErrorKind != "" {
		t.byKind[r.ErrorKind]++
	}

	t.pruneOld()
}

// Prune drops recent records older than MaxAge. Aggregates are kept.
func (t *Tracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	before := len(t.records)
	t.pruneOld()
	return before - len(t.records)
}

// pruneOld removes records older than maxAge and beyond maxCount.
func (t *Tracker) pruneOld() {
	cutoff := t.now().Add(-t.maxAge)

	startIdx := 0
	for i, r := range t.records {
		if r.Timestamp.After(cutoff) {
			startIdx = i
			break
		}
		startIdx = i + 1
	}
	if startIdx > 0 {
		t.records = append([]Record(nil), t.records[startIdx:]...)
	}

	if len(t.records) > t.maxCount {
		t.records = append([]Record(nil), t.records[len(t.records)-t.maxCount:]...)
	}
}

// ToolStats returns aggregates for one tool.
func (t *Tracker) ToolStats(tool string) (Stats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byTool[tool]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// UserStats returns aggregates for one user.
func (t *Tracker) UserStats(userID string) (Stats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byUser[userID]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// Recent returns up to limit of the most recent records, oldest first.
func (t *Tracker) Recent(limit int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.records) {
		limit = len(t.records)
	}
	start := len(t.records) - limit
	result := make([]Record, limit)
	copy(result, t.records[start:])
	return result
}

// ToolSummary is one row of Summary.ByTool.
type ToolSummary struct {
	Tool string `json:"tool"`
	Stats
}

// Summary is a point-in-time view of the tracker.
type Summary struct {
	Total        Stats            `json:"total"`
	ByTool       []ToolSummary    `json:"by_tool"`
	ErrorKinds   map[string]int64 `json:"error_kinds"`
	Users        int              `json:"users"`
	RecentWindow int              `json:"recent_window"`
}

// Summary returns aggregates ordered by call count, then tool name.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Summary{
		Total:        t.total,
		ByTool:       make([]ToolSummary, 0, len(t.byTool)),
		ErrorKinds:   make(map[string]int64, len(t.byKind)),
		Users:        len(t.byUser),
		RecentWindow: len(t.records),
	}
	for name, stats := range t.byTool {
		s.ByTool = append(s.ByTool, ToolSummary{Tool: name, Stats: *stats})
	}
	sort.Slice(s.ByTool, func(i, j int) bool {
		if s.ByTool[i].Calls != s.ByTool[j].Calls {
			return s.ByTool[i].Calls > s.ByTool[j].Calls
		}
		return s.ByTool[i].Tool < s.ByTool[j].Tool
	})
	for k, v := range t.byKind {
		s.ErrorKinds[k] = v
	}
	return s
}
