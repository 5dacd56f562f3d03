package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/numerodix/spiderfetch/internal/config"
	"github.com/numerodix/spiderfetch/internal/extract"
	"github.com/numerodix/spiderfetch/internal/urlutil"
)

const (
	// ChecksumSize is how many trailing bytes of a partial file are
	// compared against the server before a transfer resumes.
	ChecksumSize = 10 * 1024

	blockSize = 8 * 1024

	// rateStep is how many blocks pass between progress redraws.
	rateStep = 5
)

// URLLog receives one journal entry per finished transfer.
type URLLog interface {
	LogURL(status string, actual, total int64, url string, failed bool)
}

// Fetcher downloads a single URL to a local file. A fetch keeps the file
// as the goal; a spider downloads only to scan for links and aborts early
// when the content clearly holds none; a spider-fetch starts as a spider
// and downgrades to a plain fetch instead of aborting.
type Fetcher struct {
	mode     Mode
	rawURL   string
	parsed   *url.URL
	filename string
	action   string

	timeout   time.Duration
	tries     int
	retryWait time.Duration
	resume    bool
	userAgent string
	proxyAddr string

	progressW io.Writer
	log       URLLog
	client    *http.Client

	typechecked      bool
	fetchIfWrongType bool

	progress   *progress
	downloaded int64
	total      int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout sets the idle timeout applied to every read and write.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// WithTries sets how many times a transfer is attempted.
func WithTries(n int) Option {
	return func(f *Fetcher) { f.tries = n }
}

// WithRetryWait sets the pause between attempts.
func WithRetryWait(d time.Duration) Option {
	return func(f *Fetcher) { f.retryWait = d }
}

// WithResume makes the transfer continue an existing partial file.
func WithResume(resume bool) Option {
	return func(f *Fetcher) { f.resume = resume }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithProxy routes connections through a SOCKS5 proxy at addr.
func WithProxy(addr string) Option {
	return func(f *Fetcher) { f.proxyAddr = addr }
}

// WithClient substitutes the HTTP client. The client must not follow
// redirects on its own.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithLog attaches a journal for finished transfers.
func WithLog(l URLLog) Option {
	return func(f *Fetcher) { f.log = l }
}

// WithProgressWriter redirects the progress display.
func WithProgressWriter(w io.Writer) Option {
	return func(f *Fetcher) { f.progressW = w }
}

// New creates a Fetcher for one URL and destination file.
func New(mode Mode, rawURL, filename string, opts ...Option) (*Fetcher, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindURLError, URL: rawURL, Err: err}
	}

	f := &Fetcher{
		mode:      mode,
		rawURL:    rawURL,
		parsed:    parsed,
		filename:  filename,
		timeout:   config.DefaultSocketTimeout,
		tries:     config.DefaultTries,
		retryWait: config.DefaultRetryWait,
		userAgent: config.DefaultUserAgent,
		progressW: os.Stderr,
	}

	switch mode {
	case ModeSpider:
		f.action = "spider"
	case ModeSpiderFetch:
		f.action = "spider"
		f.fetchIfWrongType = true
	default:
		f.action = "fetch"
		f.typechecked = true
	}

	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Filename returns the local destination path.
func (f *Fetcher) Filename() string {
	return f.filename
}

// URL returns the URL being transferred.
func (f *Fetcher) URL() string {
	return f.rawURL
}

// Launch runs the transfer once. Failures come back as *Error; a server
// redirect comes back as *ChangedURLError for the caller to follow.
func (f *Fetcher) Launch(ctx context.Context) error {
	f.progress = newProgress(f.progressW, f.action, f.rawURL)

	err := f.loadURL(ctx)
	if err == nil {
		return nil
	}

	var changed *ChangedURLError
	if errors.As(err, &changed) {
		f.report(KindRedirect)
		return changed
	}

	var ferr *Error
	if !errors.As(err, &ferr) {
		ferr = &Error{Kind: classify(err), URL: f.rawURL, Err: err}
	}
	f.report(ferr.Kind)
	return ferr
}

// LaunchWithRetries runs the transfer until it succeeds, fails with a
// permanent error, or the attempt budget runs out. Only temporal errors
// are retried.
func (f *Fetcher) LaunchWithRetries(ctx context.Context) error {
	tries := f.tries
	for {
		tries--

		err := f.Launch(ctx)
		if err == nil {
			return nil
		}

		var ferr *Error
		if !errors.As(err, &ferr) || !ferr.Temporal() || tries < 1 {
			return err
		}

		f.progress.waiting(f.retryWait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.retryWait):
		}
	}
}

// report draws the failure on the progress line and journals it.
func (f *Fetcher) report(kind Kind) {
	f.progress.fail(kind.String())
	if f.log != nil {
		f.log.LogURL(kind.String(), f.downloaded, f.total, f.rawURL, true)
	}
}

func (f *Fetcher) loadURL(ctx context.Context) error {
	f.progress.start()

	cont := false
	var localsize int64
	if f.resume && f.mode != ModeSpider {
		if fi, err := os.Stat(f.filename); err == nil && fi.Size() > 0 {
			cont = true
			localsize = fi.Size()
		}
	}

	if err := f.transfer(ctx, cont, localsize); err != nil {
		return err
	}

	fi, err := os.Stat(f.filename)
	if err != nil {
		return &Error{Kind: KindURLError, URL: f.rawURL, Err: err}
	}
	f.downloaded = fi.Size()
	if f.downloaded == 0 {
		return &Error{Kind: KindNoData, URL: f.rawURL}
	}

	if !f.typechecked {
		f.typecheckHTML()
	}
	if !f.typechecked {
		if err := f.typecheckURLs(); err != nil {
			return err
		}
	}

	f.progress.done()
	if f.log != nil {
		f.log.LogURL("done", f.downloaded, f.total, f.rawURL, false)
	}
	return nil
}

// transfer opens the remote stream and copies it to the local file in
// fixed-size blocks, verifying the resume checksum first when continuing.
func (f *Fetcher) transfer(ctx context.Context, cont bool, localsize int64) error {
	window := int64(ChecksumSize)
	if cont && localsize < window {
		window = localsize
	}
	seekto := localsize - window

	var (
		body io.ReadCloser
		err  error
	)
	if urlutil.Scheme(f.rawURL) == "ftp" {
		body, err = f.openFTP(ctx, cont, seekto)
	} else {
		body, err = f.openHTTP(ctx, cont, seekto, localsize, window)
	}
	if err != nil {
		return err
	}
	defer body.Close()

	var out *os.File
	read := int64(0)
	blocknum := int64(0)
	if cont {
		if err := f.verifyChecksum(body, localsize, window); err != nil {
			return err
		}
		out, err = os.OpenFile(f.filename, os.O_WRONLY|os.O_APPEND, 0644)
		read = localsize
		blocknum = localsize / blockSize
	} else {
		out, err = os.Create(f.filename)
	}
	if err != nil {
		return &Error{Kind: KindURLError, URL: f.rawURL, Err: err}
	}
	defer out.Close()

	buf := make([]byte, blockSize)
	timestamp := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return &Error{Kind: KindURLError, URL: f.rawURL, Err: werr}
			}
			read += int64(n)
			blocknum++
			f.downloaded = read
			f.progress.downloaded = read

			if blocknum%rateStep == 0 {
				now := time.Now()
				interval := now.Sub(timestamp).Seconds()
				if interval < 0.1 {
					interval = 0.1
				}
				timestamp = now
				f.progress.tick(float64(rateStep*blockSize) / interval)
			}

			if !f.typechecked {
				if read >= extract.HeaderSizeHTML {
					f.typecheckHTML()
				}
				if read >= extract.HeaderSizeURLs {
					if err := f.typecheckURLs(); err != nil {
						return err
					}
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			// The http transport enforces Content-Length itself and
			// reports a short body as an unexpected EOF.
			if errors.Is(rerr, io.ErrUnexpectedEOF) {
				return &Error{Kind: KindIncomplete, URL: f.rawURL, Err: rerr}
			}
			return &Error{Kind: classify(rerr), URL: f.rawURL, Err: rerr}
		}
	}

	if f.total >= 0 && read < f.total {
		return &Error{Kind: KindIncomplete, URL: f.rawURL,
			Err: fmt.Errorf("got only %d of %d bytes", read, f.total)}
	}
	return nil
}

// verifyChecksum compares the tail of the partial file against the same
// byte range re-sent by the server. The compared remote bytes are already
// on disk, so they are consumed without being written.
func (f *Fetcher) verifyChecksum(body io.Reader, localsize, window int64) error {
	file, err := os.Open(f.filename)
	if err != nil {
		return &Error{Kind: KindURLError, URL: f.rawURL, Err: err}
	}
	defer file.Close()

	local := make([]byte, window)
	if _, err := file.ReadAt(local, localsize-window); err != nil {
		return &Error{Kind: KindURLError, URL: f.rawURL, Err: err}
	}

	remote := make([]byte, window)
	if _, err := io.ReadFull(body, remote); err != nil {
		return &Error{Kind: classify(err), URL: f.rawURL, Err: err}
	}

	if !bytes.Equal(local, remote) {
		return &Error{Kind: KindChecksum, URL: f.rawURL}
	}
	return nil
}

// httpClient returns the injected client or builds the default one. The
// client never follows redirects, so they can be surfaced to the caller.
func (f *Fetcher) httpClient() (*http.Client, error) {
	if f.client != nil {
		return f.client, nil
	}
	dial, err := newDialFunc(f.proxyAddr, f.timeout)
	if err != nil {
		return nil, &Error{Kind: KindURLError, URL: f.rawURL, Err: err}
	}
	f.client = &http.Client{
		Transport: &http.Transport{
			DialContext:         dial,
			TLSHandshakeTimeout: f.timeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return f.client, nil
}

func (f *Fetcher) openHTTP(ctx context.Context, cont bool, seekto, localsize, window int64) (io.ReadCloser, error) {
	client, err := f.httpClient()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindURLError, URL: f.rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	if ref := urlutil.Referer(f.rawURL); ref != "" {
		req.Header.Set("Referer", ref)
	}
	if cont {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", seekto))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Kind: classify(err), URL: f.rawURL, Err: err}
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Header.Get("Location")
		if location == "" {
			location = resp.Header.Get("Uri")
		}
		_ = resp.Body.Close()
		if location != "" {
			if ref, err := f.parsed.Parse(location); err == nil {
				return nil, &ChangedURLError{NewURL: ref.String()}
			}
		}
		return nil, &Error{Kind: HTTPStatus(resp.StatusCode), URL: f.rawURL}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		_ = resp.Body.Close()
		return nil, &Error{Kind: HTTPStatus(resp.StatusCode), URL: f.rawURL}
	}

	if cont && resp.Header.Get("Content-Range") == "" {
		_ = resp.Body.Close()
		return nil, &Error{Kind: KindNoResume, URL: f.rawURL}
	}

	f.total = resp.ContentLength
	if f.total >= 0 && cont {
		// The range response counts from seekto; the final file also
		// holds the bytes before it.
		f.total += localsize - window
	}
	f.progress.total = f.total
	return resp.Body, nil
}

func (f *Fetcher) openFTP(ctx context.Context, cont bool, seekto int64) (io.ReadCloser, error) {
	dial, err := newDialFunc(f.proxyAddr, f.timeout)
	if err != nil {
		return nil, &Error{Kind: KindURLError, URL: f.rawURL, Err: err}
	}

	rest := int64(0)
	if cont {
		rest = seekto
	}
	result, err := openFTP(ctx, dial, f.parsed, rest)
	if err != nil {
		return nil, err
	}

	f.total = result.Size
	f.progress.total = f.total
	return result.Body, nil
}

// typecheckHTML marks the transfer typechecked once the content looks
// like HTML.
func (f *Fetcher) typecheckHTML() {
	data, err := os.ReadFile(f.filename)
	if err != nil || len(data) == 0 {
		return
	}
	if extract.IsHTML(data) {
		f.typechecked = true
	}
}

// typecheckURLs is the last resort check. Content without a single URL in
// it is useless to a spider; a spider-fetch downgrades to a plain fetch
// instead of aborting.
func (f *Fetcher) typecheckURLs() error {
	data, err := os.ReadFile(f.filename)
	if err != nil || len(data) == 0 {
		return nil
	}
	if !extract.HasURLs(data, f.rawURL) {
		if !f.fetchIfWrongType {
			return &Error{Kind: KindWrongType, URL: f.rawURL}
		}
		f.action = "fetch"
		f.progress.action = "fetch"
	}
	f.typechecked = true
	return nil
}
