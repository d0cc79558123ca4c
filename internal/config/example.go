package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
)

// DefaultExamplePath is where generate-config writes when no path is given
const DefaultExamplePath = "config.example.toml"

// ExampleTOML is the commented example configuration
const ExampleTOML = `# http-ytproxy configuration file
# Sizes accept raw byte counts (10485760) or units: 10K, 10KB, 10M, 10MB, 1G, 2T.
# All units are binary: 1MB = 1024 * 1024 bytes.

[proxy]
port = 12081
chunk_size = "10MB"          # span of each rewritten Range request
cert_file = "cert.pem"
key_file = "key.pem"
adaptive_chunking = false    # reserved, has no effect
min_chunk_size = "2.5MB"
max_chunk_size = "40MB"
memory_pool_enabled = true   # reuse prefetch buffers

[security]
# passphrase = "..."         # falls back to $YTPROXY_PASSPHRASE
cert_validity_days = 365

[logging]
level = "info"               # debug, info, warn, error
format = "console"           # console or json
# log_file = "ytproxy.log"
log_timing = false

[performance]
http2 = true
connection_pool_size = 10
request_timeout = 30         # seconds

[parallel]
parallel_downloads = false   # prefetch upcoming chunks
max_concurrent_chunks = 2
prefetch_ahead = "20MB"

[websites]
youtube = true
youtube_alternatives = true
vimeo = false
dailymotion = false
twitch = false
custom_domains = []          # e.g. ["media.example.net"], substring match on the URL

[journal]
enabled = false
path = "ytproxy-journal.db"
retention = "168h"

[admin]
enabled = false
bind_addr = "127.0.0.1:12082"
require_auth = false         # basic auth user "admin", password = passphrase
`

// WriteExample writes ExampleTOML to path. An existing file is never
// overwritten.
func WriteExample(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return domain.NewConfigError("", domain.ErrAlreadyExists, "file %s", path)
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if _, err := f.WriteString(ExampleTOML); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
