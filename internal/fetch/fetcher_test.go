package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// captureLog records journal entries in memory.
type captureLog struct {
	entries []logEntry
}

type logEntry struct {
	status string
	url    string
	failed bool
}

func (l *captureLog) LogURL(status string, actual, total int64, url string, failed bool) {
	l.entries = append(l.entries, logEntry{status: status, url: url, failed: failed})
}

func newTestFetcher(t *testing.T, mode Mode, url string, opts ...Option) (*Fetcher, string) {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "out")
	opts = append([]Option{WithProgressWriter(io.Discard)}, opts...)
	f, err := New(mode, url, filename, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f, filename
}

func TestFetcherFetch(t *testing.T) {
	t.Parallel()

	const content = "hello, world"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, content)
	}))
	defer srv.Close()

	log := &captureLog{}
	f, filename := newTestFetcher(t, ModeFetch, srv.URL+"/file.txt", WithLog(log))

	if err := f.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	got, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != content {
		t.Errorf("file content = %q, want %q", got, content)
	}

	if len(log.entries) != 1 || log.entries[0].status != "done" || log.entries[0].failed {
		t.Errorf("log entries = %+v, want one done entry", log.entries)
	}
}

func TestFetcherSendsHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, ModeFetch, srv.URL+"/a/b.txt", WithUserAgent("tester/1.0"))
	if err := f.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	if gotUA != "tester/1.0" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "tester/1.0")
	}
	if gotReferer == "" {
		t.Error("Referer header not sent")
	}
}

func TestFetcherRedirect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/moved/file.txt", http.StatusFound)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, ModeFetch, srv.URL+"/file.txt")
	err := f.Launch(context.Background())

	var changed *ChangedURLError
	if !errors.As(err, &changed) {
		t.Fatalf("Launch() error = %v, want ChangedURLError", err)
	}
	if want := srv.URL + "/moved/file.txt"; changed.NewURL != want {
		t.Errorf("NewURL = %q, want %q", changed.NewURL, want)
	}
}

func TestFetcherHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	log := &captureLog{}
	f, _ := newTestFetcher(t, ModeFetch, srv.URL+"/gone", WithLog(log))
	err := f.Launch(context.Background())

	var ferr *Error
	if !errors.As(err, &ferr) {
		t.Fatalf("Launch() error = %v, want *Error", err)
	}
	if ferr.Kind != HTTPStatus(404) {
		t.Errorf("Kind = %v, want http 404", ferr.Kind)
	}
	if ferr.Temporal() {
		t.Error("http 404 should not be temporal")
	}

	if len(log.entries) != 1 || !log.entries[0].failed || log.entries[0].status != "http 404" {
		t.Errorf("log entries = %+v, want one failed http 404 entry", log.entries)
	}
}

func TestFetcherNoData(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, ModeFetch, srv.URL+"/empty")
	err := f.Launch(context.Background())

	var ferr *Error
	if !errors.As(err, &ferr) || ferr.Kind != KindNoData {
		t.Errorf("Launch() error = %v, want no data", err)
	}
}

func TestFetcherRetriesTemporal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "finally")
	}))
	defer srv.Close()

	f, filename := newTestFetcher(t, ModeFetch, srv.URL+"/flaky",
		WithTries(3), WithRetryWait(time.Millisecond))

	if err := f.LaunchWithRetries(context.Background()); err != nil {
		t.Fatalf("LaunchWithRetries() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}

	got, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "finally" {
		t.Errorf("file content = %q, want %q", got, "finally")
	}
}

func TestFetcherRetriesExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, ModeFetch, srv.URL+"/down",
		WithTries(2), WithRetryWait(time.Millisecond))

	err := f.LaunchWithRetries(context.Background())
	var ferr *Error
	if !errors.As(err, &ferr) || ferr.Kind != HTTPStatus(503) {
		t.Fatalf("LaunchWithRetries() error = %v, want http 503", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want 2", got)
	}
}

func TestFetcherPermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, ModeFetch, srv.URL+"/gone",
		WithTries(3), WithRetryWait(time.Millisecond))

	if err := f.LaunchWithRetries(context.Background()); err == nil {
		t.Fatal("LaunchWithRetries() expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1", got)
	}
}

func TestFetcherResume(t *testing.T) {
	t.Parallel()

	const content = "0123456789abcdefghij"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=0-" {
			t.Errorf("Range = %q, want bytes=0-", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(content)-1, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, content)
	}))
	defer srv.Close()

	f, filename := newTestFetcher(t, ModeFetch, srv.URL+"/file.bin", WithResume(true))
	if err := os.WriteFile(filename, []byte(content[:8]), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := f.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	got, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != content {
		t.Errorf("file content = %q, want %q", got, content)
	}
}

func TestFetcherResumeChecksumMismatch(t *testing.T) {
	t.Parallel()

	const content = "0123456789abcdefghij"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(content)-1, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, content)
	}))
	defer srv.Close()

	f, filename := newTestFetcher(t, ModeFetch, srv.URL+"/file.bin", WithResume(true))
	if err := os.WriteFile(filename, []byte("XXXXXXXX"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	err := f.Launch(context.Background())
	var ferr *Error
	if !errors.As(err, &ferr) || ferr.Kind != KindChecksum {
		t.Errorf("Launch() error = %v, want checksum", err)
	}
}

func TestFetcherResumeNotSupported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Range: the server ignored the Range header.
		fmt.Fprint(w, "fresh copy")
	}))
	defer srv.Close()

	f, filename := newTestFetcher(t, ModeFetch, srv.URL+"/file.bin", WithResume(true))
	if err := os.WriteFile(filename, []byte("partial"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	err := f.Launch(context.Background())
	var ferr *Error
	if !errors.As(err, &ferr) || ferr.Kind != KindNoResume {
		t.Errorf("Launch() error = %v, want no resume", err)
	}
}

func TestFetcherSpiderWrongType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x00, 0x01})
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, ModeSpider, srv.URL+"/image.gif")
	err := f.Launch(context.Background())

	var ferr *Error
	if !errors.As(err, &ferr) || ferr.Kind != KindWrongType {
		t.Errorf("Launch() error = %v, want wrong type", err)
	}
}

func TestFetcherSpiderFetchDowngrades(t *testing.T) {
	t.Parallel()

	binary := []byte{0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x00, 0x01}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(binary)
	}))
	defer srv.Close()

	f, filename := newTestFetcher(t, ModeSpiderFetch, srv.URL+"/image.gif")
	if err := f.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	got, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != string(binary) {
		t.Error("downgraded fetch should keep the file contents")
	}
}

func TestFetcherSpiderHTML(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="http://example.org/">link</a></body></html>`)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, ModeSpider, srv.URL+"/page.html")
	if err := f.Launch(context.Background()); err != nil {
		t.Errorf("Launch() error = %v", err)
	}
}

func TestFetcherConnectionRefused(t *testing.T) {
	t.Parallel()

	// Grab a port that nothing listens on.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f, _ := newTestFetcher(t, ModeFetch, url+"/file")
	err := f.Launch(context.Background())

	var ferr *Error
	if !errors.As(err, &ferr) {
		t.Fatalf("Launch() error = %v, want *Error", err)
	}
	if ferr.Kind != KindSocket && ferr.Kind != KindTimeout {
		t.Errorf("Kind = %v, want socket or timeout", ferr.Kind)
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		size int64
		want string
	}{
		{0, "  0.0 B "},
		{500, "500.0 B "},
		{2048, "  2.0 KB"},
		{5 * 1024 * 1024, "  5.0 MB"},
		{-1, " -1.0 B "},
	}
	for _, tt := range tests {
		if got := formatSize(tt.size); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}
