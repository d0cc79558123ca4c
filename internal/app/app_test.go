package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/vertextoedge/http-ytproxy/internal/config"
)

// freePort returns a loopback port that was free a moment ago
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Proxy.Port = freePort(t)
	cfg.Websites.CustomDomains = []string{"127.0.0.1"}
	cfg.Performance.RequestTimeout = 5
	return cfg
}

func TestStart_ProxiesAndRewrites(t *testing.T) {
	ranges := make(chan string, 4)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case ranges <- r.Header.Get("Range"):
		default:
		}
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, "chunk")
	}))
	defer origin.Close()

	cfg := testConfig(t)
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Admin.Enabled = true
	cfg.Admin.BindAddr = "127.0.0.1:0"

	a, err := Start(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Close()

	proxyURL, _ := url.Parse("http://" + a.ProxyAddr().String())
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}

	req, _ := http.NewRequest(http.MethodGet, origin.URL+"/videoplayback", nil)
	req.Header.Set("Range", "bytes=0-")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent || string(body) != "chunk" {
		t.Fatalf("response = %d %q", resp.StatusCode, body)
	}
	if got := <-ranges; got != "bytes=0-10485759" {
		t.Errorf("origin saw Range %q, want bytes=0-10485759", got)
	}

	// the admin server reports the rewrite
	statsResp, err := http.Get("http://" + a.AdminAddr().String() + "/debug/stats")
	if err != nil {
		t.Fatalf("GET stats error = %v", err)
	}
	defer statsResp.Body.Close()
	var stats struct {
		Interceptor struct {
			Rewritten uint64 `json:"rewritten"`
		} `json:"interceptor"`
	}
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Interceptor.Rewritten != 1 {
		t.Errorf("rewritten = %d, want 1", stats.Interceptor.Rewritten)
	}
}

func TestStart_AdminRequiresAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Enabled = true
	cfg.Admin.BindAddr = "127.0.0.1:0"
	cfg.Admin.RequireAuth = true
	cfg.Security.Passphrase = "secret"

	a, err := Start(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Close()

	tests := []struct {
		name       string
		password   string
		wantStatus int
	}{
		{"no credentials", "", http.StatusUnauthorized},
		{"passphrase", "secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "http://"+a.AdminAddr().String()+"/debug/stats", nil)
			if tt.password != "" {
				req.SetBasicAuth("admin", tt.password)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestStart_ParallelDownloads(t *testing.T) {
	cfg := testConfig(t)
	cfg.Parallel.ParallelDownloads = true

	a, err := Start(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if a.prefetcher == nil {
		t.Error("prefetcher not created with parallel downloads enabled")
	}
	if a.AdminAddr() != nil {
		t.Error("admin server started while disabled")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestStart_PortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer l.Close()

	cfg := testConfig(t)
	cfg.Proxy.Port = l.Addr().(*net.TCPAddr).Port

	if _, err := Start(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("Start() succeeded on a port in use")
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, err := Start(context.Background(), testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
