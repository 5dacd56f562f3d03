package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/numerodix/spiderfetch/internal/config"
	"github.com/numerodix/spiderfetch/internal/fetch"
	"github.com/numerodix/spiderfetch/internal/log"
	"github.com/numerodix/spiderfetch/internal/recipe"
	"github.com/numerodix/spiderfetch/internal/scheduler"
	"github.com/numerodix/spiderfetch/internal/session"
	"github.com/numerodix/spiderfetch/internal/urlutil"
	"github.com/numerodix/spiderfetch/internal/webgraph"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url] [pattern]",
		Short: "Crawl outward from a URL, fetching files matched by a pattern or recipe",
		Long: `Crawl starts from a URL, spiders the pages it finds for further URLs, and
fetches the files that match. The pattern is a regular expression applied
to each discovered URL; a recipe file expresses multi-stage crawls with
separate fetch/spider/dump patterns and per-rule depths.

An interrupted crawl saves its web graph and pending queue keyed by the
origin host; running the same crawl again picks up where it left off.

Examples:
  # Fetch all jpg files linked from a gallery page
  spiderfetch crawl http://host/gallery/ '\.jpg$'

  # Crawl two levels deep, staying on the origin host
  spiderfetch crawl --depth 2 --host http://host/ '\.iso$'

  # Only print matching URLs, fetch nothing
  spiderfetch crawl --dump http://host/ '\.torrent$'

  # Drive the crawl from a recipe file
  spiderfetch crawl --recipe mirror.yaml http://host/

Recipe file example:
  - spider: 'page=\d+'
    fetch: '\.(jpg|png)$'
    depth: 3
  - dump: '\.torrent$'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runCrawlCmd,
	}

	// Crawl shape flags
	cmd.Flags().StringP("recipe", "r", "",
		"Recipe file describing the crawl (YAML)")
	cmd.Flags().BoolP("fetch", "f", false,
		"Fetch every URL the pattern would otherwise only spider or dump")
	cmd.Flags().Bool("dump", false,
		"Print matching URLs instead of fetching them")
	cmd.Flags().Bool("host", false,
		"Only spider pages on the origin URL's host")
	cmd.Flags().IntP("depth", "d", 0,
		"Override the recursion depth of every rule")
	cmd.Flags().Duration("pause", 0,
		"Fixed delay between requests")

	// Transfer flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultSocketTimeout,
		"Timeout for each blocking socket operation")
	cmd.Flags().Int("tries", config.DefaultTries,
		"Fetch attempts per URL, extra tries only spent on transient errors")
	cmd.Flags().String("proxy", "",
		"SOCKS5 proxy address (host:port)")

	// Storage flags
	cmd.Flags().String("db", "",
		"Record the web graph in a SQLite database at this path")
	cmd.Flags().String("dir", ".",
		"Directory to save fetched files in")
	cmd.Flags().BoolP("quiet", "q", false,
		"Do not write the per-URL journal files")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildCrawlConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := log.NewLogger(os.Stderr, getVerboseFlag(cmd))
	slog.SetDefault(logger)

	originURL := args[0]
	pattern := ""
	if len(args) > 1 {
		pattern = args[1]
	}

	ov, err := buildOverrides(cmd)
	if err != nil {
		return err
	}
	rules, err := buildRules(cmd, originURL, pattern, ov)
	if err != nil {
		return err
	}

	store, err := session.NewStore(cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	dbPath, err := cmd.Flags().GetString("db")
	if err != nil {
		return err
	}
	destDir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return err
	}

	host := urlutil.Hostname(originURL)
	webName := session.WebName(host)
	sessionName := session.SessionName(host)

	graph, err := openGraph(store, webName, dbPath, originURL)
	if err != nil {
		return err
	}
	defer graph.Close()

	queue := []scheduler.Record{{URL: originURL, Mode: fetch.ModeSpider}}
	if store.Exists(sessionName) {
		if err := store.Load(sessionName, &queue); err != nil {
			return fmt.Errorf("failed to restore session: %w", err)
		}
		queue = scheduler.OverruleRecords(queue, ov)
		logger.Info("resuming crawl", "session", sessionName, "pending", len(queue))
	}

	var journal *session.Journal
	if !cfg.Quiet {
		journal = session.NewJournal(store.Dir())
	}

	fetchOpts := []fetch.Option{
		fetch.WithTimeout(cfg.SocketTimeout),
		fetch.WithTries(cfg.Tries),
		fetch.WithRetryWait(cfg.RetryWait),
		fetch.WithUserAgent(cfg.UserAgent),
	}
	if cfg.ProxyAddress != "" {
		fetchOpts = append(fetchOpts, fetch.WithProxy(cfg.ProxyAddress))
	}
	if journal != nil {
		fetchOpts = append(fetchOpts, fetch.WithLog(journal))
	}

	saveState := func(queue []scheduler.Record) {
		if mg, ok := graph.(*webgraph.Memory); ok {
			if err := store.SaveGraph(webName, mg); err != nil {
				logger.Error("failed to save web graph", "error", err)
			}
		}
		if err := store.Save(sessionName, queue); err != nil {
			logger.Error("failed to save session", "error", err)
		}
	}

	schedOpts := []scheduler.Option{
		scheduler.WithLaunchFunc(scheduler.NewLaunchFunc(fetchOpts...)),
		scheduler.WithDestDir(destDir),
		scheduler.WithOrigFilenames(cfg.OrigFilenames),
		scheduler.WithCheckpoint(saveState, cfg.SaveInterval),
	}
	if journal != nil {
		schedOpts = append(schedOpts, scheduler.WithJournal(journal))
	}
	if cfg.Pause > 0 {
		schedOpts = append(schedOpts, scheduler.WithPause(cfg.Pause))
	}

	sched := scheduler.New(graph, rules, schedOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, cancelling...")
		cancel()
	}()

	remaining, err := sched.Run(ctx, queue)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			return err
		}
		// Interrupted: keep the pending queue so the crawl can resume.
		saveState(remaining)
		color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(),
			"Session saved to %s, rerun to resume\n", store.Dir())
		return nil
	}

	if mg, ok := graph.(*webgraph.Memory); ok {
		if err := store.SaveGraph(webName, mg); err != nil {
			return fmt.Errorf("failed to save web graph: %w", err)
		}
	}
	if err := store.Remove(sessionName); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(),
		"Crawl complete, web graph saved to %s\n", store.Dir())
	return nil
}

// buildCrawlConfig creates a Config from the environment and crawl flags.
func buildCrawlConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.ApplyEnv()

	var err error

	cfg.SocketTimeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}

	cfg.Tries, err = cmd.Flags().GetInt("tries")
	if err != nil {
		return nil, err
	}

	cfg.ProxyAddress, err = cmd.Flags().GetString("proxy")
	if err != nil {
		return nil, err
	}

	pause, err := cmd.Flags().GetDuration("pause")
	if err != nil {
		return nil, err
	}
	if pause > 0 {
		cfg.Pause = pause
	}

	cfg.Quiet, err = cmd.Flags().GetBool("quiet")
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// buildOverrides reads the rule override flags.
func buildOverrides(cmd *cobra.Command) (recipe.Overrides, error) {
	var ov recipe.Overrides
	var err error

	ov.FetchAll, err = cmd.Flags().GetBool("fetch")
	if err != nil {
		return ov, err
	}
	ov.DumpAll, err = cmd.Flags().GetBool("dump")
	if err != nil {
		return ov, err
	}
	ov.HostFilter, err = cmd.Flags().GetBool("host")
	if err != nil {
		return ov, err
	}
	ov.Depth, err = cmd.Flags().GetInt("depth")
	if err != nil {
		return ov, err
	}
	return ov, nil
}

// buildRules compiles the crawl rules from a recipe file or the shorthand
// pattern argument, with command line overrides applied to either.
func buildRules(cmd *cobra.Command, originURL, pattern string, ov recipe.Overrides) ([]recipe.Rule, error) {
	recipePath, err := cmd.Flags().GetString("recipe")
	if err != nil {
		return nil, err
	}

	if recipePath != "" {
		return recipe.Load(recipePath, originURL, ov)
	}
	if pattern == "" {
		return nil, errors.New("either a pattern argument or --recipe is required")
	}
	return recipe.Shorthand(pattern, originURL, ov)
}

// openGraph opens the web graph backend for a crawl. A --db path selects
// the SQLite backend; otherwise an existing saved graph for the origin
// host is restored, or a fresh in-memory graph is rooted at the origin.
func openGraph(store *session.Store, webName, dbPath, originURL string) (webgraph.Graph, error) {
	if dbPath != "" {
		g, err := webgraph.OpenSQLite(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open graph database: %w", err)
		}
		if err := g.AddURL(originURL, nil); err != nil {
			g.Close()
			return nil, err
		}
		return g, nil
	}
	if store.Exists(webName) {
		g, err := store.LoadGraph(webName)
		if err != nil {
			return nil, fmt.Errorf("failed to restore web graph: %w", err)
		}
		return g, nil
	}
	return webgraph.NewMemory(originURL), nil
}
