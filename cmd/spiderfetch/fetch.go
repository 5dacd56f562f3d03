package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/numerodix/spiderfetch/internal/config"
	"github.com/numerodix/spiderfetch/internal/fetch"
	"github.com/numerodix/spiderfetch/internal/log"
	"github.com/numerodix/spiderfetch/internal/session"
	"github.com/numerodix/spiderfetch/internal/urlutil"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// journalThreshold is the URL count above which fetches are journaled, so
// that long batch runs leave a record of what succeeded and what failed.
const journalThreshold = 5

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [url]...",
		Short: "Download one or more URLs",
		Long: `Fetch downloads each URL to the current directory, showing transfer
progress. HTTP, HTTPS and FTP URLs are supported. Partial downloads can
be continued with -c, which verifies the overlap between the local file
and the remote one before resuming.

Examples:
  # Download a file
  spiderfetch fetch http://host/file.iso

  # Continue an interrupted download
  spiderfetch fetch -c http://host/file.iso

  # Download several files, four at a time
  spiderfetch fetch -b 4 http://host/a.iso http://host/b.iso ftp://host/c.iso`,
		Args: cobra.MinimumNArgs(1),
		RunE: runFetchCmd,
	}

	cmd.Flags().BoolP("continue", "c", false,
		"Resume partially downloaded files")
	cmd.Flags().DurationP("timeout", "t", config.DefaultSocketTimeout,
		"Timeout for each blocking socket operation")
	cmd.Flags().Int("tries", config.DefaultTries,
		"Fetch attempts per URL, extra tries only spent on transient errors")
	cmd.Flags().IntP("batch", "b", 1,
		"Number of concurrent downloads")
	cmd.Flags().String("proxy", "",
		"SOCKS5 proxy address (host:port)")
	cmd.Flags().Bool("fullpath", false,
		"Derive filenames from the whole URL instead of the basename")
	cmd.Flags().BoolP("quiet", "q", false,
		"Do not write the per-URL journal files")

	return cmd
}

// runFetchCmd executes the fetch command.
func runFetchCmd(cmd *cobra.Command, args []string) error {
	logger := log.NewLogger(os.Stderr, getVerboseFlag(cmd))
	slog.SetDefault(logger)

	cfg := config.NewConfig()
	cfg.ApplyEnv()

	var err error
	cfg.SocketTimeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	cfg.Tries, err = cmd.Flags().GetInt("tries")
	if err != nil {
		return err
	}
	cfg.ProxyAddress, err = cmd.Flags().GetString("proxy")
	if err != nil {
		return err
	}
	cfg.Resume, err = cmd.Flags().GetBool("continue")
	if err != nil {
		return err
	}
	cfg.Quiet, err = cmd.Flags().GetBool("quiet")
	if err != nil {
		return err
	}
	batch, err := cmd.Flags().GetInt("batch")
	if err != nil {
		return err
	}
	if batch < 1 {
		batch = 1
	}
	fullpath, err := cmd.Flags().GetBool("fullpath")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Long batch runs get a journal so failures can be found afterwards.
	var journal *session.Journal
	if len(args) > journalThreshold && !cfg.Quiet {
		store, err := session.NewStore(cfg.LogDir)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		journal = session.NewJournal(store.Dir())
	}

	opts := []fetch.Option{
		fetch.WithTimeout(cfg.SocketTimeout),
		fetch.WithTries(cfg.Tries),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithResume(cfg.Resume),
	}
	if cfg.ProxyAddress != "" {
		opts = append(opts, fetch.WithProxy(cfg.ProxyAddress))
	}
	if journal != nil {
		opts = append(opts, fetch.WithLog(journal))
	}
	// Concurrent progress bars would clobber each other on one terminal.
	if batch > 1 {
		opts = append(opts, fetch.WithProgressWriter(io.Discard))
	}

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

	var failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batch)

	for _, rawURL := range args {
		filename := urlutil.URLToFilename(rawURL, !fullpath)
		if !cfg.Resume {
			filename = session.SafeFilename(filename)
		}

		f, err := fetch.New(fetch.ModeFetch, rawURL, filename, opts...)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", rawURL, err)
			failed.Add(1)
			continue
		}

		g.Go(func() error {
			if err := f.LaunchWithRetries(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", f.URL(), err)
				failed.Add(1)
			}
			return ctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d downloads failed", n, len(args))
	}
	return nil
}
