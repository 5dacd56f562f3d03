package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/numerodix/spiderfetch/internal/fetch"
)

// Journal filenames.
const (
	logURLsFile   = "log_urls"
	errorURLsFile = "error_urls"
	errorLogFile  = "error_log"
)

// Journal appends transfer outcomes to plain-text logs in a directory.
// Successful transfers go to log_urls, failed ones to error_urls, and
// errors outside the fetch path to error_log. Safe for concurrent use.
type Journal struct {
	mu  sync.Mutex
	dir string
}

// NewJournal creates a journal writing under dir.
func NewJournal(dir string) *Journal {
	return &Journal{dir: dir}
}

// LogURL records one finished transfer.
func (j *Journal) LogURL(status string, actual, total int64, url string, failed bool) {
	name := logURLsFile
	if failed {
		name = errorURLsFile
	}
	j.append(name, fetch.LogLine(status, actual, total, url))
}

// LogError records a failure outside the normal transfer path, along with
// the URLs referring to the one that failed.
func (j *Journal) LogError(url string, referrers []string, err error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%v\n", err)
	fmt.Fprintf(&b, "Bad url:   |%s|\n", url)
	for _, ref := range referrers {
		fmt.Fprintf(&b, "Ref    :   |%s|\n", ref)
	}
	b.WriteString("\n")
	j.append(errorLogFile, b.String())
}

func (j *Journal) append(name, line string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.dir, 0750); err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(j.dir, name),
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line)
}
