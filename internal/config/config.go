// Package config holds runtime configuration for the spiderfetch tool suite.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// Where a value has a matching environment variable, the variable name is
// noted; ApplyEnv picks those up so that the CLI flags only need to cover
// the common cases.
const (
	// DefaultSocketTimeout bounds a single blocking connect or read on the
	// wire (SOCKET_TIMEOUT, in seconds). Exceeding it classifies the fetch
	// as a timeout, which is a temporal error and therefore retryable.
	DefaultSocketTimeout = 10 * time.Second

	// DefaultTries is the number of fetch attempts per launch (TRIES).
	// Only temporal errors consume additional tries.
	DefaultTries = 1

	// DefaultRetryWait is the fixed backoff between fetch attempts.
	DefaultRetryWait = 10 * time.Second

	// DefaultSaveInterval is how often the crawl scheduler checkpoints the
	// web graph and the pending queue during a long crawl.
	DefaultSaveInterval = 30 * time.Minute

	// DefaultUserAgent cloaks the fetcher as an old but widely accepted
	// browser. Some hosts serve error pages to unknown agents
	// (VANILLA_USER_AGENT disables the cloak).
	DefaultUserAgent = "Mozilla/4.0 (compatible; MSIE 7.0; Windows NT 6.0)"

	// VanillaUserAgent identifies the tool honestly.
	VanillaUserAgent = "spiderfetch"

	// AppName is used for XDG directory paths and temp file prefixes.
	AppName = "spiderfetch"
)

// Config holds all options consumed by the fetch engine and the crawl
// scheduler. It is populated from defaults, then the environment, then CLI
// flags, and passed down explicitly rather than read from globals.
type Config struct {
	// SocketTimeout bounds each blocking connect/read on a transfer.
	SocketTimeout time.Duration

	// Tries is the per-launch fetch attempt count. Minimum 1.
	Tries int

	// RetryWait is the pause between attempts after a temporal error.
	RetryWait time.Duration

	// SaveInterval is the periodic checkpoint interval for crawls.
	SaveInterval time.Duration

	// LogDir is where session artifacts (<host>.web, <host>.session) and
	// the fetch journals (log_urls, error_urls, error_log) are written.
	// Empty means the XDG data directory (LOGDIR).
	LogDir string

	// OrigFilenames saves files under their basename on the host rather
	// than a name derived from the full URL (ORIG_FILENAMES).
	OrigFilenames bool

	// Pause is an optional fixed delay between crawl requests (PAUSE, in
	// seconds). A politeness knob, not a correctness mechanism.
	Pause time.Duration

	// UserAgent is sent with every HTTP request.
	UserAgent string

	// ProxyAddress, when set, routes transfers through a SOCKS5 proxy in
	// "host:port" form.
	ProxyAddress string

	// Resume continues existing partial downloads instead of truncating.
	Resume bool

	// Quiet disables the per-URL journal files.
	Quiet bool

	// Verbose enables slog debug output.
	Verbose bool
}

// NewConfig returns a Config with all defaults applied.
func NewConfig() *Config {
	return &Config{
		SocketTimeout: DefaultSocketTimeout,
		Tries:         DefaultTries,
		RetryWait:     DefaultRetryWait,
		SaveInterval:  DefaultSaveInterval,
		LogDir:        DataDir(),
		UserAgent:     DefaultUserAgent,
	}
}

// ApplyEnv overlays configuration from environment variables. Flags parsed
// afterwards take precedence over these values.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SOCKET_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.SocketTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("TRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Tries = n
		}
	}
	if v := os.Getenv("LOGDIR"); v != "" {
		c.LogDir = v
	}
	if v := os.Getenv("ORIG_FILENAMES"); v != "" {
		c.OrigFilenames = v == "1"
	}
	if v := os.Getenv("PAUSE"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Pause = time.Duration(secs) * time.Second
		}
	}
	if os.Getenv("VANILLA_USER_AGENT") != "" {
		c.UserAgent = VanillaUserAgent
	}
}

// DataDir returns the default directory for session state and journals,
// following the XDG Base Directory Specification.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.SocketTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Tries < 1 {
		return ErrInvalidTries
	}
	if c.RetryWait < 0 {
		return ErrInvalidRetryWait
	}
	if c.Pause < 0 {
		return ErrInvalidPause
	}
	return nil
}
