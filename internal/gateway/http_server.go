package gateway

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/pam/internal/usage"
	"github.com/haasonsaas/pam/pkg/models"
)

const maxExecuteBodyBytes = 1 << 20

// Handler returns the gateway's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/tools/execute", s.handleExecuteTool)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /ws", s.handleWS)
	return s.instrument(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			// Upgraded connections outlive the request; sessions carry their own metrics.
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ctx, span := s.tracer.TraceHTTPRequest(r.Context(), r.Method, r.URL.Path)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.tracer.SetAttributes(span, "http.status_code", rec.status)
		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.SessionCount(),
		"uptime":   time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": s.engine.Registry().Declarations(),
	})
}

// executeRequest is the body of POST /v1/tools/execute.
type executeRequest struct {
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`
	UserID     string         `json:"userId"`
	RequestID  string         `json:"requestId"`
}

// handleExecuteTool runs one tool call. Tool-level failures are reported in
// the result body with status 200; only malformed requests get 4xx.
func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExecuteBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if strings.TrimSpace(req.ToolName) == "" {
		writeError(w, http.StatusBadRequest, "toolName is required")
		return
	}
	if ok, wait := s.limiter.Allow(req.UserID); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	result := s.engine.Execute(r.Context(), models.NewToolExecutionRequest(
		req.ToolName, normalizeNumbers(req.Parameters), req.UserID, req.RequestID))
	writeJSON(w, http.StatusOK, result)
}

// normalizeNumbers converts json.Number values to float64 so HTTP callers
// and socket callers present identical parameters to the engine.
func normalizeNumbers(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				out[k] = f
				continue
			}
		}
		out[k] = v
	}
	return out
}

type usageResponse struct {
	Summary *usage.Summary `json:"summary,omitempty"`
	User    *userUsage     `json:"user,omitempty"`
	Tool    *toolUsage     `json:"tool,omitempty"`
	Recent  []usage.Record `json:"recent,omitempty"`
}

type userUsage struct {
	UserID string      `json:"user_id"`
	Stats  usage.Stats `json:"stats"`
}

type toolUsage struct {
	Tool  string      `json:"tool"`
	Stats usage.Stats `json:"stats"`
}

// handleUsage reports tracker aggregates. Optional query parameters:
// user_id, tool and recent (record count).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp := usageResponse{}

	if userID := q.Get("user_id"); userID != "" {
		stats, _ := s.tracker.UserStats(userID)
		resp.User = &userUsage{UserID: userID, Stats: stats}
	}
	if tool := q.Get("tool"); tool != "" {
		if _, ok := s.engine.Registry().Get(tool); !ok {
			writeError(w, http.StatusNotFound, "unknown tool")
			return
		}
		stats, _ := s.tracker.ToolStats(tool)
		resp.Tool = &toolUsage{Tool: tool, Stats: stats}
	}
	if resp.User == nil && resp.Tool == nil {
		summary := s.tracker.Summary()
		resp.Summary = &summary
	}
	if raw := q.Get("recent"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "recent must be a positive integer")
			return
		}
		resp.Recent = s.tracker.Recent(min(n, s.config.MaxRecent))
	}
	writeJSON(w, http.StatusOK, resp)
}
