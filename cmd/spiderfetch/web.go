package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/numerodix/spiderfetch/internal/webgraph"
	"github.com/spf13/cobra"
)

// popularCount is how many URLs --popular lists.
const popularCount = 10

// NewWebCmd creates the web command.
func NewWebCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "web [file]",
		Short: "Query a saved web graph",
		Long: `Web inspects the web graph a crawl left behind, either a <host>.web
snapshot file or a SQLite database written with crawl --db. Without any
query flag it prints summary statistics.

Examples:
  # Show graph statistics
  spiderfetch web www_example_com.web

  # Which pages link to a URL, and where does it link
  spiderfetch web www_example_com.web --in http://host/page.html
  spiderfetch web www_example_com.web --out http://host/page.html

  # Shortest path from the crawl root to a URL
  spiderfetch web www_example_com.web --trace http://host/deep/file.jpg

  # The ten most linked-to URLs
  spiderfetch web --db crawl.db --popular`,
		Args: cobra.ExactArgs(1),
		RunE: runWebCmd,
	}

	cmd.Flags().Bool("db", false,
		"Treat the file as a SQLite graph database")
	cmd.Flags().Bool("dump", false,
		"Print every URL in the graph")
	cmd.Flags().String("in", "",
		"Print the URLs linking to this URL")
	cmd.Flags().String("out", "",
		"Print the URLs this URL links to")
	cmd.Flags().String("aliases", "",
		"Print all the names this URL was seen under")
	cmd.Flags().Bool("multiple", false,
		"Print URLs that were seen under more than one name")
	cmd.Flags().String("trace", "",
		"Print the path from the crawl root to this URL")
	cmd.Flags().Bool("deepest", false,
		"Print the URL furthest from the crawl root")
	cmd.Flags().Bool("popular", false,
		"Print the most linked-to URLs")

	return cmd
}

// runWebCmd executes the web command.
func runWebCmd(cmd *cobra.Command, args []string) error {
	graph, err := loadGraph(cmd, args[0])
	if err != nil {
		return err
	}
	defer graph.Close()

	out := cmd.OutOrStdout()

	if dump, _ := cmd.Flags().GetBool("dump"); dump {
		urls, err := graph.URLs()
		if err != nil {
			return err
		}
		for _, u := range urls {
			fmt.Fprintln(out, u)
		}
		return nil
	}

	if url, _ := cmd.Flags().GetString("in"); url != "" {
		return printLinks(out, url, graph.Incoming)
	}
	if url, _ := cmd.Flags().GetString("out"); url != "" {
		return printLinks(out, url, graph.Outgoing)
	}
	if url, _ := cmd.Flags().GetString("aliases"); url != "" {
		return printLinks(out, url, graph.Aliases)
	}

	if multiple, _ := cmd.Flags().GetBool("multiple"); multiple {
		byURL, err := webgraph.MultiAliased(graph)
		if err != nil {
			return err
		}
		urls := make([]string, 0, len(byURL))
		for u := range byURL {
			urls = append(urls, u)
		}
		sort.Strings(urls)
		for _, u := range urls {
			for _, alias := range byURL[u] {
				fmt.Fprintln(out, alias)
			}
			fmt.Fprintln(out)
		}
		return nil
	}

	if url, _ := cmd.Flags().GetString("trace"); url != "" {
		path, err := webgraph.Trace(graph, url)
		if err != nil {
			return err
		}
		if path == nil {
			return fmt.Errorf("no path from root to %s", url)
		}
		for i, hop := range path {
			fmt.Fprintf(out, "%2d  %s\n", i, hop)
		}
		return nil
	}

	if deepest, _ := cmd.Flags().GetBool("deepest"); deepest {
		url, depth, err := webgraph.DeepestURL(graph)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%2d  %s\n", depth, url)
		return nil
	}

	if popular, _ := cmd.Flags().GetBool("popular"); popular {
		ranked, err := webgraph.MostPopular(graph, popularCount)
		if err != nil {
			return err
		}
		for _, r := range ranked {
			fmt.Fprintf(out, "%4d  %s\n", r.Incoming, r.URL)
		}
		return nil
	}

	return printStats(out, graph)
}

// loadGraph opens the graph named on the command line, picking the backend
// from the --db flag.
func loadGraph(cmd *cobra.Command, path string) (webgraph.Graph, error) {
	asDB, err := cmd.Flags().GetBool("db")
	if err != nil {
		return nil, err
	}
	if asDB {
		return webgraph.OpenSQLite(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open web graph: %w", err)
	}
	defer f.Close()
	g, err := webgraph.DecodeMemory(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read web graph: %w", err)
	}
	return g, nil
}

// printLinks prints one line per URL returned by a graph query.
func printLinks(w io.Writer, url string, query func(string) ([]string, error)) error {
	urls, err := query(url)
	if err != nil {
		return err
	}
	for _, u := range urls {
		fmt.Fprintln(w, u)
	}
	return nil
}

// printStats prints graph summary statistics.
func printStats(w io.Writer, graph webgraph.Graph) error {
	root, err := graph.Root()
	if err != nil {
		return err
	}
	urls, err := graph.URLs()
	if err != nil {
		return err
	}
	nodes, err := graph.Len()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Root url : %s\n", root)
	fmt.Fprintf(w, "Urls     : %d\n", len(urls))
	fmt.Fprintf(w, "Nodes    : %d\n", nodes)
	return nil
}
