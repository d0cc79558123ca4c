package port

import (
	"context"
	"io"
	"net/http"

	"github.com/vertextoedge/http-ytproxy/internal/domain/vo"
)

// FetchRequest is one outgoing upstream request
type FetchRequest struct {
	Method string // defaults to GET
	URL    string
	Header http.Header
	// Range, when set, replaces any Range header in Header
	Range *vo.RangeSpec
	// Body is the request body for methods that carry one
	Body          io.Reader
	ContentLength int64
}

// FetchResponse is the upstream reply. The caller must close Body.
type FetchResponse struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
}

// Fetcher performs upstream HTTP transport. The core never opens sockets
// itself; every network call goes through a Fetcher.
type Fetcher interface {
	// Fetch issues req and returns once response headers arrive.
	// Cancelling ctx aborts the request and any pending body read.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error)
}
