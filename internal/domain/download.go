package domain

import (
	"strconv"
	"time"
)

// FetchKind distinguishes playback fetches from speculative ones
type FetchKind int

const (
	// KindPrimary is a fetch the player is waiting on
	KindPrimary FetchKind = iota
	// KindPrefetch is a speculative fetch ahead of playback
	KindPrefetch
)

// String returns the kind name
func (k FetchKind) String() string {
	switch k {
	case KindPrimary:
		return "primary"
	case KindPrefetch:
		return "prefetch"
	default:
		return "unknown"
	}
}

// ParseFetchKind is the inverse of FetchKind.String; unknown names map to KindPrimary
func ParseFetchKind(s string) FetchKind {
	if s == "prefetch" {
		return KindPrefetch
	}
	return KindPrimary
}

// RegistrationOutcome is the result of registering a sub-range fetch
type RegistrationOutcome int

const (
	// Registered means the caller owns the fetch and must release it
	Registered RegistrationOutcome = iota
	// AlreadyInFlight means an identical fetch is running; do not duplicate it
	AlreadyInFlight
)

// String returns the outcome name
func (o RegistrationOutcome) String() string {
	if o == Registered {
		return "registered"
	}
	return "already_in_flight"
}

// DownloadKey identifies one logical sub-range fetch of a resource.
// Start and End are inclusive byte offsets.
type DownloadKey struct {
	Resource string
	Start    uint64
	End      uint64
}

// String returns "resource[start-end]"
func (k DownloadKey) String() string {
	return k.Resource + "[" + strconv.FormatUint(k.Start, 10) + "-" + strconv.FormatUint(k.End, 10) + "]"
}

// Fetch status constants recorded in the journal
const (
	FetchStatusCompleted = "completed"
	FetchStatusFailed    = "failed"
	FetchStatusTimeout   = "timeout"
	FetchStatusCancelled = "cancelled"
	FetchStatusPreempted = "preempted"
)

// FetchRecord is a journal entry for a finished fetch
type FetchRecord struct {
	ID        int64
	RequestID string
	Resource  string
	Start     uint64
	End       uint64
	Kind      FetchKind
	Status    string
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}

// RewriteRecord is a journal entry for a transformed request
type RewriteRecord struct {
	ID        int64
	RequestID string
	URL       string
	Original  string
	Rewritten string
	Category  string
	CreatedAt time.Time
}

// FetchSummary aggregates journal fetch entries by status
type FetchSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
	Cancelled int `json:"cancelled"`
	Preempted int `json:"preempted"`
	Rewrites  int `json:"rewrites"`
}
