package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
	"github.com/vertextoedge/http-ytproxy/internal/domain/vo"
	"github.com/vertextoedge/http-ytproxy/internal/port"
	"github.com/vertextoedge/http-ytproxy/internal/service/interceptor"
)

// retryAfterTimeout is advertised to clients when an upstream fetch times out
const retryAfterTimeout = 2 * time.Second

// headers that apply to a single connection and are never forwarded
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyHandler is a plain-HTTP forward proxy. Eligible requests have their
// Range header bounded by the interceptor before they are forwarded.
type ProxyHandler struct {
	interceptor *interceptor.Interceptor
	fetcher     port.Fetcher
	logger      *zap.Logger
}

// NewProxyHandler creates a new ProxyHandler
func NewProxyHandler(icpt *interceptor.Interceptor, fetcher port.Fetcher, logger *zap.Logger) *ProxyHandler {
	return &ProxyHandler{
		interceptor: icpt,
		fetcher:     fetcher,
		logger:      logger,
	}
}

// ServeHTTP handles one absolute-form proxy request
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "CONNECT is not supported by the local proxy", http.StatusNotImplemented)
		return
	}
	if !r.URL.IsAbs() || r.URL.Host == "" {
		http.Error(w, "Absolute-form request URI required", http.StatusBadRequest)
		return
	}

	target := r.URL.String()
	header := r.Header.Clone()
	removeHopByHop(header)

	m := h.interceptor.Transform(interceptor.Request{URL: target, Header: header})
	if m.Rewrite {
		header.Set("Range", m.Range)
	}

	ctx := r.Context()
	var fetchErr error

	// only ranged GETs of eligible resources take part in deduplication
	if spec, ok := trackedRange(r.Method, m, header); ok {
		lease, err := h.interceptor.FetchStarted(ctx, target, spec)
		if err != nil {
			h.logger.Warn("failed to register fetch", zap.String("url", target), zap.Error(err))
			http.Error(w, "Proxy unavailable", http.StatusServiceUnavailable)
			return
		}
		ctx = lease.Context()
		defer func() {
			h.interceptor.FetchCompleted(target, spec, fetchErr)
		}()
	}

	req := &port.FetchRequest{Method: r.Method, URL: target, Header: header}
	if r.Body != nil && r.Body != http.NoBody {
		req.Body = r.Body
		req.ContentLength = r.ContentLength
	}

	resp, err := h.fetcher.Fetch(ctx, req)
	if err != nil {
		fetchErr = err
		h.writeFetchError(w, target, err)
		return
	}
	defer resp.Body.Close()

	out := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	removeHopByHop(out)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		fetchErr = fmt.Errorf("%w: copy response: %w", domain.ErrFetchFailed, err)
		h.logger.Debug("response copy aborted", zap.String("url", target), zap.Error(err))
	}
}

func (h *ProxyHandler) writeFetchError(w http.ResponseWriter, target string, err error) {
	if errors.Is(err, domain.ErrFetchTimeout) {
		retryErr := domain.NewRetryableError(err, retryAfterTimeout)
		if after, ok := domain.GetRetryAfter(retryErr); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(after/time.Second)))
		}
		h.logger.Warn("upstream fetch timed out", zap.String("url", target), zap.Error(retryErr))
		http.Error(w, "Upstream timeout", http.StatusGatewayTimeout)
		return
	}

	h.logger.Warn("upstream fetch failed", zap.String("url", target), zap.Error(err))
	http.Error(w, "Upstream fetch failed", http.StatusBadGateway)
}

// trackedRange returns the outgoing range of an eligible ranged GET
func trackedRange(method string, m interceptor.Mutation, header http.Header) (vo.RangeSpec, bool) {
	if method != http.MethodGet || m.RequestID == "" {
		return vo.RangeSpec{}, false
	}
	spec, err := vo.ParseRangeHeader(header.Get("Range"))
	if err != nil {
		return vo.RangeSpec{}, false
	}
	return spec, true
}

func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}
