// Package recipe defines the rules that drive a crawl: which URLs to
// dump, fetch or spider, how deep to go, and whether to stay on the
// starting host.
package recipe

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/numerodix/spiderfetch/internal/urlutil"
)

// ErrPattern marks a rule pattern that does not compile.
var ErrPattern = errors.New("pattern error")

// Rule is one stage of a crawl. The patterns are unanchored; a nil
// pattern matches nothing.
type Rule struct {
	Dump   *regexp.Regexp
	Fetch  *regexp.Regexp
	Spider *regexp.Regexp

	// Depth is how many spidering generations this rule runs for. A
	// negative depth is unbounded: the rule spiders until the frontier
	// is exhausted.
	Depth int

	// HostFilter restricts spidering to one hostname when non-empty.
	HostFilter string
}

// MatchDump reports whether url should be printed.
func (r Rule) MatchDump(url string) bool {
	return r.Dump != nil && r.Dump.MatchString(url)
}

// MatchFetch reports whether url should be downloaded.
func (r Rule) MatchFetch(url string) bool {
	return r.Fetch != nil && r.Fetch.MatchString(url)
}

// MatchSpider reports whether url should be scanned for links. The host
// filter applies to spidering only.
func (r Rule) MatchSpider(url string) bool {
	return r.Spider != nil && r.Spider.MatchString(url) && r.HostAllowed(url)
}

// HostAllowed reports whether url passes the rule's host filter.
func (r Rule) HostAllowed(url string) bool {
	return r.HostFilter == "" || urlutil.Hostname(url) == r.HostFilter
}

// Overrides adjust loaded rules from the command line.
type Overrides struct {
	// FetchAll turns dump patterns into fetch patterns.
	FetchAll bool

	// DumpAll turns fetch patterns into dump patterns.
	DumpAll bool

	// Depth overrides every rule's depth when non-zero. A negative
	// value makes every rule unbounded.
	Depth int

	// HostFilter restricts spidering to the origin URL's host.
	HostFilter bool
}

// ruleSpec is the YAML shape of one rule.
type ruleSpec struct {
	Dump   string `yaml:"dump,omitempty"`
	Fetch  string `yaml:"fetch,omitempty"`
	Spider string `yaml:"spider,omitempty"`
	Depth  *int   `yaml:"depth,omitempty"`
}

// Load reads a recipe file and compiles it against the crawl origin.
func Load(path, origin string, ov Overrides) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe: %w", err)
	}

	var specs []ruleSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse recipe: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("recipe %s holds no rules", path)
	}
	return compile(specs, origin, ov)
}

// Shorthand builds the one-rule recipe equivalent to a bare pattern:
// spider everything, fetch what matches.
func Shorthand(pattern, origin string, ov Overrides) ([]Rule, error) {
	specs := []ruleSpec{{Spider: ".*", Fetch: pattern}}
	return compile(specs, origin, ov)
}

func compile(specs []ruleSpec, origin string, ov Overrides) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		if ov.FetchAll && spec.Dump != "" {
			spec.Fetch = spec.Dump
			spec.Dump = ""
		} else if ov.DumpAll && spec.Fetch != "" {
			spec.Dump = spec.Fetch
			spec.Fetch = ""
		}

		rule := Rule{Depth: 1}
		if spec.Depth != nil {
			rule.Depth = *spec.Depth
		}
		if ov.Depth != 0 {
			rule.Depth = ov.Depth
		}
		if ov.HostFilter {
			rule.HostFilter = urlutil.Hostname(origin)
		}

		var err error
		if rule.Dump, err = compilePattern(spec.Dump); err != nil {
			return nil, err
		}
		if rule.Fetch, err = compilePattern(spec.Fetch); err != nil {
			return nil, err
		}
		if rule.Spider, err = compilePattern(spec.Spider); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrPattern, err, pattern)
	}
	return re, nil
}
