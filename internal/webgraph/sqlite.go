package webgraph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite is the relational Graph backend. Each Graph operation maps onto
// insert-or-ignore statements, so the graph is durable at all times and no
// whole-graph checkpoint is needed; the trade-off is query latency on the
// introspection side.
type SQLite struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLite opens or creates a graph database at path, creating parent
// directories as needed.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	g := &SQLite{db: db, dbPath: path}

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := g.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return g, nil
}

// Close implements Graph.
func (g *SQLite) Close() error {
	return g.db.Close()
}

func (g *SQLite) createTables() error {
	schema := `
	-- Nodes are keyed by canonical URL.
	CREATE TABLE IF NOT EXISTS nodes (
		url TEXT PRIMARY KEY
	);

	-- Directed edges between canonical URLs.
	CREATE TABLE IF NOT EXISTS edges (
		src TEXT NOT NULL,
		dst TEXT NOT NULL,
		UNIQUE(src, dst)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src);
	CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst);

	-- Every addressable URL maps to its canonical node; position 0 is the
	-- canonical URL itself, higher positions are redirect aliases in
	-- insertion order.
	CREATE TABLE IF NOT EXISTS aliases (
		alias TEXT PRIMARY KEY,
		node TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_aliases_node ON aliases(node);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := g.db.ExecContext(context.Background(), schema)
	return err
}

// canonical resolves url (canonical or alias) to its canonical node URL.
// Returns ErrUnknownURL when the URL is not in the graph.
func (g *SQLite) canonical(url string) (string, error) {
	var node string
	err := g.db.QueryRowContext(context.Background(),
		"SELECT node FROM aliases WHERE alias = ?", url).Scan(&node)
	if err == sql.ErrNoRows {
		return "", ErrUnknownURL
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve url: %w", err)
	}
	return node, nil
}

// ensure inserts url as a node if absent and returns its canonical URL.
func (g *SQLite) ensure(url string) (string, error) {
	if canon, err := g.canonical(url); err == nil {
		return canon, nil
	} else if err != ErrUnknownURL {
		return "", err
	}

	ctx := context.Background()
	if _, err := g.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO nodes (url) VALUES (?)", url); err != nil {
		return "", fmt.Errorf("failed to insert node: %w", err)
	}
	if _, err := g.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO aliases (alias, node, position) VALUES (?, ?, 0)", url, url); err != nil {
		return "", fmt.Errorf("failed to insert alias: %w", err)
	}
	return url, nil
}

// AddURL implements Graph.
func (g *SQLite) AddURL(url string, children []string) error {
	canon, err := g.ensure(url)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if _, err := g.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO meta (key, value) VALUES ('root', ?)", canon); err != nil {
		return fmt.Errorf("failed to set root: %w", err)
	}

	for _, c := range children {
		if c == url {
			continue
		}
		childCanon, err := g.ensure(c)
		if err != nil {
			return err
		}
		if childCanon == canon {
			continue
		}
		if _, err := g.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO edges (src, dst) VALUES (?, ?)", canon, childCanon); err != nil {
			return fmt.Errorf("failed to insert edge: %w", err)
		}
	}
	return nil
}

// AddRef implements Graph.
func (g *SQLite) AddRef(url, alias string) error {
	canon, err := g.canonical(url)
	if err != nil {
		return err
	}

	var next int
	err = g.db.QueryRowContext(context.Background(),
		"SELECT COALESCE(MAX(position), 0) + 1 FROM aliases WHERE node = ?", canon).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to count aliases: %w", err)
	}

	_, err = g.db.ExecContext(context.Background(),
		"INSERT OR IGNORE INTO aliases (alias, node, position) VALUES (?, ?, ?)", alias, canon, next)
	if err != nil {
		return fmt.Errorf("failed to insert alias: %w", err)
	}
	return nil
}

// Contains implements Graph.
func (g *SQLite) Contains(url string) (bool, error) {
	_, err := g.canonical(url)
	if err == ErrUnknownURL {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Root implements Graph.
func (g *SQLite) Root() (string, error) {
	var root string
	err := g.db.QueryRowContext(context.Background(),
		"SELECT value FROM meta WHERE key = 'root'").Scan(&root)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get root: %w", err)
	}
	return root, nil
}

// Incoming implements Graph.
func (g *SQLite) Incoming(url string) ([]string, error) {
	canon, err := g.canonical(url)
	if err != nil {
		return nil, err
	}
	return g.queryStrings(
		"SELECT src FROM edges WHERE dst = ? ORDER BY src", canon)
}

// Outgoing implements Graph.
func (g *SQLite) Outgoing(url string) ([]string, error) {
	canon, err := g.canonical(url)
	if err != nil {
		return nil, err
	}
	return g.queryStrings(
		"SELECT dst FROM edges WHERE src = ? ORDER BY dst", canon)
}

// Aliases implements Graph.
func (g *SQLite) Aliases(url string) ([]string, error) {
	canon, err := g.canonical(url)
	if err != nil {
		return nil, err
	}
	return g.queryStrings(
		"SELECT alias FROM aliases WHERE node = ? ORDER BY position", canon)
}

// URLs implements Graph.
func (g *SQLite) URLs() ([]string, error) {
	return g.queryStrings("SELECT alias FROM aliases ORDER BY alias")
}

// Len implements Graph.
func (g *SQLite) Len() (int, error) {
	var n int
	err := g.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM nodes").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return n, nil
}

func (g *SQLite) queryStrings(query string, args ...any) ([]string, error) {
	rows, err := g.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
