package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/http-ytproxy/internal/domain/vo"
	"github.com/vertextoedge/http-ytproxy/internal/port"
	"github.com/vertextoedge/http-ytproxy/internal/service/coordinator"
	"github.com/vertextoedge/http-ytproxy/internal/service/interceptor"
	"github.com/vertextoedge/http-ytproxy/internal/util/bufpool"
)

const (
	defaultFetchLimit = 50
	maxFetchLimit     = 500
)

// DebugHandler handles debug endpoint requests
type DebugHandler struct {
	coord       *coordinator.Coordinator
	interceptor *interceptor.Interceptor
	pool        *bufpool.Pool
	store       port.Store
	chunkSize   vo.ByteSize
	logger      *zap.Logger
}

// NewDebugHandler creates a new DebugHandler. store may be nil when the
// journal is disabled.
func NewDebugHandler(
	coord *coordinator.Coordinator,
	icpt *interceptor.Interceptor,
	pool *bufpool.Pool,
	store port.Store,
	chunkSize vo.ByteSize,
	logger *zap.Logger,
) *DebugHandler {
	return &DebugHandler{
		coord:       coord,
		interceptor: icpt,
		pool:        pool,
		store:       store,
		chunkSize:   chunkSize,
		logger:      logger,
	}
}

// HandleHealth handles health check requests
func (h *DebugHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.store != nil {
		if err := h.store.Ping(); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			http.Error(w, "Journal connection failed", http.StatusServiceUnavailable)
			return
		}
	}

	writeJSON(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// HandleStats handles debug statistics requests
func (h *DebugHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"chunk_size":  humanize.IBytes(h.chunkSize.Bytes()),
		"coordinator": h.coord.Stats(),
		"interceptor": h.interceptor.Stats(),
	}
	if h.pool != nil {
		response["buffer_pool"] = h.pool.Stats()
	}

	if h.store != nil {
		summary, err := h.store.FetchSummary()
		if err != nil {
			h.logger.Error("failed to get journal summary", zap.Error(err))
			http.Error(w, "Failed to get journal summary", http.StatusInternalServerError)
			return
		}
		response["journal"] = summary
	}

	writeJSON(w, response)
}

// HandleFetches lists recent journal fetches: /debug/fetches?limit=N
func (h *DebugHandler) HandleFetches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.store == nil {
		http.Error(w, "Journal disabled", http.StatusNotFound)
		return
	}

	limit := defaultFetchLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxFetchLimit)
	}

	fetches, err := h.store.RecentFetches(limit)
	if err != nil {
		h.logger.Error("failed to get recent fetches", zap.Error(err))
		http.Error(w, "Failed to get recent fetches", http.StatusInternalServerError)
		return
	}

	type fetchView struct {
		RequestID  string `json:"request_id,omitempty"`
		URL        string `json:"url"`
		Range      string `json:"range"`
		Kind       string `json:"kind"`
		Status     string `json:"status"`
		Error      string `json:"error,omitempty"`
		DurationMs int64  `json:"duration_ms"`
		CreatedAt  string `json:"created_at"`
	}
	views := make([]fetchView, 0, len(fetches))
	for _, f := range fetches {
		views = append(views, fetchView{
			RequestID:  f.RequestID,
			URL:        f.Resource,
			Range:      vo.ClosedRange(f.Start, f.End).String(),
			Kind:       f.Kind.String(),
			Status:     f.Status,
			Error:      f.Error,
			DurationMs: f.Duration.Milliseconds(),
			CreatedAt:  f.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, map[string]interface{}{"fetches": views})
}

// HandleTestURL reports whether a URL would be intercepted: /debug/test-url?url=
func (h *DebugHandler) HandleTestURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "url parameter required", http.StatusBadRequest)
		return
	}

	supported, category := h.interceptor.TestURL(target)
	writeJSON(w, map[string]interface{}{
		"url":       target,
		"supported": supported,
		"category":  category.String(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
