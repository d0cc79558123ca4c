package server

import (
	"net/http"

	"go.uber.org/zap"
)

// AdminUser is the basic auth user name for protected admin endpoints
const AdminUser = "admin"

// AdminOptions configures the admin routes
type AdminOptions struct {
	// Password enables basic auth on /debug/ endpoints when set
	Password string
}

// NewAdminMux registers the health and debug endpoints
func NewAdminMux(debug *DebugHandler, opts AdminOptions, logger *zap.Logger) *http.ServeMux {
	protect := func(h http.HandlerFunc) http.HandlerFunc { return h }
	if opts.Password != "" {
		protect = BasicAuthMiddleware(AdminUser, opts.Password, logger)
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", debug.HandleHealth)

	// Debug endpoints
	mux.HandleFunc("/debug/stats", protect(debug.HandleStats))
	mux.HandleFunc("/debug/fetches", protect(debug.HandleFetches))
	mux.HandleFunc("/debug/test-url", protect(debug.HandleTestURL))

	return mux
}
