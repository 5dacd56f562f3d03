// Package scheduler walks a crawl queue through the rules of a recipe,
// one spidering generation at a time, growing the web graph as it goes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/numerodix/spiderfetch/internal/config"
	"github.com/numerodix/spiderfetch/internal/extract"
	"github.com/numerodix/spiderfetch/internal/fetch"
	"github.com/numerodix/spiderfetch/internal/recipe"
	"github.com/numerodix/spiderfetch/internal/session"
	"github.com/numerodix/spiderfetch/internal/urlutil"
	"github.com/numerodix/spiderfetch/internal/webgraph"
)

// Record is one queued transfer.
type Record struct {
	URL  string     `json:"url"`
	Mode fetch.Mode `json:"mode"`

	// Retry marks a record already requeued once after a temporal
	// failure, so it is not requeued again.
	Retry bool `json:"retry,omitempty"`
}

// OverruleRecords applies fetch-all/dump-all overrides to a restored
// queue, so a resumed crawl honors the flags of the resuming run. With
// fetch-all every record is downloaded as well; with dump-all nothing is,
// and records left with no work are dropped.
func OverruleRecords(records []Record, ov recipe.Overrides) []Record {
	if !ov.FetchAll && !ov.DumpAll {
		return records
	}

	out := records[:0]
	for _, r := range records {
		if ov.FetchAll {
			r.Mode |= fetch.ModeFetch
		} else if ov.DumpAll {
			r.Mode &^= fetch.ModeFetch
		}
		if r.Mode != 0 {
			out = append(out, r)
		}
	}
	return out
}

// Launcher runs one prepared transfer.
type Launcher interface {
	Run(ctx context.Context) error
}

// LaunchFunc builds the Launcher for a transfer.
type LaunchFunc func(mode fetch.Mode, url, filename string) (Launcher, error)

type runFunc func(context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }

// NewLaunchFunc builds transfers on the real fetch engine, passing opts
// through to every Fetcher.
func NewLaunchFunc(opts ...fetch.Option) LaunchFunc {
	return func(mode fetch.Mode, url, filename string) (Launcher, error) {
		f, err := fetch.New(mode, url, filename, opts...)
		if err != nil {
			return nil, err
		}
		return runFunc(f.LaunchWithRetries), nil
	}
}

// Scheduler drives a crawl: it launches transfers, spiders downloaded
// content for new URLs, qualifies them against the active rule, and keeps
// the queue and graph current.
type Scheduler struct {
	graph webgraph.Graph
	rules []recipe.Rule

	launch  LaunchFunc
	journal *session.Journal

	dumpW   io.Writer
	destDir string
	tempDir string

	origFilenames bool
	limiter       *rate.Limiter

	checkpoint   func(queue []Record)
	saveInterval time.Duration
	lastSave     time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLaunchFunc substitutes how transfers are run.
func WithLaunchFunc(f LaunchFunc) Option {
	return func(s *Scheduler) { s.launch = f }
}

// WithJournal attaches a journal for errors outside the fetch path.
func WithJournal(j *session.Journal) Option {
	return func(s *Scheduler) { s.journal = j }
}

// WithDumpWriter sets where dump-matched URLs are printed.
func WithDumpWriter(w io.Writer) Option {
	return func(s *Scheduler) { s.dumpW = w }
}

// WithDestDir sets where fetched files land.
func WithDestDir(dir string) Option {
	return func(s *Scheduler) { s.destDir = dir }
}

// WithTempDir sets where in-flight downloads are spooled.
func WithTempDir(dir string) Option {
	return func(s *Scheduler) { s.tempDir = dir }
}

// WithOrigFilenames keeps the basename from the host instead of deriving
// a collision-resistant name from the whole URL.
func WithOrigFilenames(orig bool) Option {
	return func(s *Scheduler) { s.origFilenames = orig }
}

// WithPause waits this long between requests.
func WithPause(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithCheckpoint installs a callback that persists the pending queue,
// invoked periodically during long crawls.
func WithCheckpoint(f func(queue []Record), interval time.Duration) Option {
	return func(s *Scheduler) {
		s.checkpoint = f
		s.saveInterval = interval
	}
}

// New creates a Scheduler crawling into graph under the given rules.
func New(graph webgraph.Graph, rules []recipe.Rule, opts ...Option) *Scheduler {
	s := &Scheduler{
		graph:        graph,
		rules:        rules,
		launch:       NewLaunchFunc(),
		dumpW:        os.Stdout,
		saveInterval: config.DefaultSaveInterval,
		lastSave:     time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run crawls until the queue and all rules are exhausted. On context
// cancellation it stops between transfers and returns the unprocessed
// queue along with the context error, so the caller can persist it.
func (s *Scheduler) Run(ctx context.Context, queue []Record) ([]Record, error) {
	outer := queue
	for i, rule := range s.rules {
		depth := rule.Depth
		queue, outer = outer, nil

		for len(queue) > 0 {
			if depth > 0 {
				depth--
			} else if depth == 0 {
				// Depth is spent: one more pass for fetching only.
				// Spidering is deferred to the next rule, or dropped
				// on the last one. Negative depth never splits, so
				// the rule crawls until the frontier is exhausted.
				queue, outer = splitQueue(queue, i == len(s.rules)-1)
			}

			next, remaining, err := s.processRecords(ctx, queue, rule)
			if err != nil {
				return remaining, err
			}
			queue = next
		}
	}
	return nil, nil
}

// splitQueue separates a queue whose spidering budget is spent. Anything
// fetch-capable is downgraded to a plain fetch and run now; anything
// spider-capable is deferred, unless this is the last rule.
func splitQueue(queue []Record, lastRule bool) (fetchQ, spiderQ []Record) {
	for _, r := range queue {
		if r.Mode.Fetches() {
			fetchQ = append(fetchQ, Record{URL: r.URL, Mode: fetch.ModeFetch})
		}
		if !lastRule && r.Mode.Spiders() {
			spiderQ = append(spiderQ, Record{URL: r.URL, Mode: fetch.ModeSpider})
		}
	}
	return fetchQ, spiderQ
}

// processRecords runs one generation of the queue and returns the next
// one. Temporal failures requeue the record once at the end of the
// current generation.
func (s *Scheduler) processRecords(ctx context.Context, queue []Record, rule recipe.Rule) (next, remaining []Record, err error) {
	var newqueue []Record

	// Plain slice iteration would miss retry records appended mid-pass.
	for i := 0; i < len(queue); i++ {
		record := queue[i]

		if ctx.Err() != nil {
			remaining = append(append([]Record{}, queue[i:]...), newqueue...)
			return nil, remaining, ctx.Err()
		}
		s.maybeCheckpoint(append(append([]Record{}, queue[i:]...), newqueue...))

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				remaining = append(append([]Record{}, queue[i:]...), newqueue...)
				return nil, remaining, err
			}
		}

		requeue, results := s.processRecord(ctx, record, rule)
		if requeue {
			record.Retry = true
			queue = append(queue, record)
		}
		newqueue = append(newqueue, results...)
	}
	return newqueue, nil, nil
}

// processRecord fetches one record, spiders the result if the record
// spiders, and files the download if it fetches. It reports whether the
// record should be retried and which new records the content produced.
func (s *Scheduler) processRecord(ctx context.Context, record Record, rule recipe.Rule) (requeue bool, results []Record) {
	tmp, err := os.CreateTemp(s.tempDir, ".spiderfetch.")
	if err != nil {
		s.logError(record.URL, err)
		return false, nil
	}
	filename := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(filename)

	url, ferr := s.resolveFetch(ctx, record.Mode, record.URL, filename, rule)
	if ferr != nil {
		if errors.Is(ferr, fetch.ErrDuplicateURL) || errors.Is(ferr, fetch.ErrRedirectsOffHost) {
			return false, nil
		}

		var fe *fetch.Error
		if errors.As(ferr, &fe) {
			requeue = fe.Temporal() && !record.Retry
		} else {
			s.logError(url, ferr)
		}
	}

	if record.Mode.Spiders() {
		results = s.spiderFile(url, filename, rule)
	}

	if record.Mode.Fetches() && ferr == nil {
		if err := s.fileDownload(url, filename); err != nil {
			s.logError(url, err)
		}
	}
	return requeue, results
}

// resolveFetch runs the transfer, following server redirects by hand. A
// redirect onto a URL already in the graph, or off the filtered host,
// abandons the record; otherwise the new URL is recorded as an alias of
// the old and the transfer restarts against it.
func (s *Scheduler) resolveFetch(ctx context.Context, mode fetch.Mode, url, filename string, rule recipe.Rule) (string, error) {
	for {
		l, err := s.launch(mode, url, filename)
		if err != nil {
			return url, err
		}

		err = l.Run(ctx)
		var changed *fetch.ChangedURLError
		if !errors.As(err, &changed) {
			return url, err
		}

		rewritten := urlutil.RewriteURLs(url, []string{changed.NewURL})
		if len(rewritten) == 0 {
			return url, fmt.Errorf("redirect target %q did not survive rewriting", changed.NewURL)
		}
		next := rewritten[0]

		if known, err := s.graph.Contains(next); err != nil {
			return url, err
		} else if known {
			return url, fetch.ErrDuplicateURL
		}
		if !rule.HostAllowed(next) {
			return url, fetch.ErrRedirectsOffHost
		}

		if err := s.graph.AddRef(url, next); err != nil {
			return url, err
		}
		url = next
	}
}

// spiderFile scans downloaded content for URLs and qualifies them against
// the rule. Partial downloads are spidered too; whatever links made it
// through are still good.
func (s *Scheduler) spiderFile(url, filename string, rule recipe.Rule) []Record {
	data, err := os.ReadFile(filename)
	if err != nil {
		s.logError(url, err)
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	raws := extract.FindAll(data, url)
	urls := urlutil.RewriteURLs(url, raws)
	return s.qualifyURLs(url, urls, rule)
}

// qualifyURLs matches candidate URLs against the rule's patterns. New
// matches are queued under the mode their matches call for; URLs already
// in the graph only contribute an edge.
func (s *Scheduler) qualifyURLs(refURL string, urls []string, rule recipe.Rule) []Record {
	var results []Record
	for _, u := range urls {
		dump := rule.MatchDump(u)
		fetches := rule.MatchFetch(u)
		spiders := rule.MatchSpider(u)

		known, err := s.graph.Contains(u)
		if err != nil {
			s.logError(u, err)
			continue
		}

		if !known {
			if dump {
				fmt.Fprintln(s.dumpW, u)
			}
			var mode fetch.Mode
			if fetches {
				mode |= fetch.ModeFetch
			}
			if spiders {
				mode |= fetch.ModeSpider
			}
			if mode != 0 {
				results = append(results, Record{URL: u, Mode: mode})
			}
		}

		if dump || fetches || spiders {
			if err := s.graph.AddURL(refURL, []string{u}); err != nil {
				s.logError(u, err)
			}
		}
	}
	return results
}

// fileDownload moves a finished download to its destination name.
func (s *Scheduler) fileDownload(url, filename string) error {
	dest := urlutil.URLToFilename(url, s.origFilenames)
	if s.destDir != "" {
		dest = filepath.Join(s.destDir, dest)
	}
	dest = session.SafeFilename(dest)

	if err := os.Rename(filename, dest); err == nil {
		return nil
	}

	// Rename fails across filesystems; fall back to a copy.
	in, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (s *Scheduler) maybeCheckpoint(queue []Record) {
	if s.checkpoint == nil {
		return
	}
	if time.Since(s.lastSave) < s.saveInterval {
		return
	}
	s.checkpoint(queue)
	s.lastSave = time.Now()
}

func (s *Scheduler) logError(url string, err error) {
	if s.journal == nil {
		return
	}
	var referrers []string
	if refs, rerr := s.graph.Incoming(url); rerr == nil {
		referrers = refs
	}
	s.journal.LogError(url, referrers, err)
}
