// Package main provides the entry point for the spiderfetch CLI.
//
// spiderfetch is a recursive web spider and fetcher for http, https and
// ftp. It crawls outward from a starting URL under the control of a
// recipe, downloads what the recipe matches, and records everything it
// sees in a persistent web graph.
//
// Usage:
//
//	spiderfetch crawl <url> ['<pattern>']
//	spiderfetch fetch <url>...
//	spiderfetch web <file>
//
// See --help for all available options.
package main

// main is the entry point for spiderfetch.
func main() {
	Execute()
}
