package fetch

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/numerodix/spiderfetch/internal/urlutil"
)

// Display geometry. The URL cell absorbs what the fixed cells leave over.
const (
	lineWidth   = 78
	actionWidth = 6
	rateWidth   = 10
	sizeWidth   = 10
	urlWidth    = lineWidth - actionWidth - rateWidth - sizeWidth - 7
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// formatSize renders a byte count as a fixed-width human-readable cell.
// Negative sizes mean unknown.
func formatSize(size int64) string {
	val := float64(size)
	c := 0
	for val > 999 && c < len(sizeUnits)-1 {
		val /= 1024
		c++
	}
	return fmt.Sprintf("%5s %-2s", fmt.Sprintf("%3.1f", val), sizeUnits[c])
}

// progress renders the single-line transfer display. Intermediate states
// redraw in place with a carriage return; terminal states emit a newline.
type progress struct {
	w      io.Writer
	action string
	url    string

	downloaded int64
	total      int64
}

func newProgress(w io.Writer, action, url string) *progress {
	return &progress{w: w, action: action, url: url, total: -1}
}

func (p *progress) urlCell() string {
	return fmt.Sprintf("%-*s", urlWidth, urlutil.TruncateURL(urlWidth, p.url))
}

func (p *progress) sizeCell() (string, bool) {
	if p.total > 0 {
		return fmt.Sprintf("%-*s", sizeWidth, "  "+formatSize(p.total)), true
	}
	if p.downloaded > 0 {
		return fmt.Sprintf("%-*s", sizeWidth, "  "+formatSize(p.downloaded)), false
	}
	return fmt.Sprintf("%-*s", sizeWidth, "  ????? B"), false
}

func (p *progress) write(rateCell string, paint *color.Color, terminal bool) {
	action := fmt.Sprintf("%*s", actionWidth, p.action)
	rate := paint.Sprint(fmt.Sprintf("%-*s", rateWidth, rateCell))

	url := p.urlCell()
	size, known := p.sizeCell()
	if !known {
		size = color.New(color.FgYellow).Sprint(size)
	}

	term := "\r"
	if terminal {
		term = "\n"
	}
	fmt.Fprintf(p.w, "%s ::  %s  %s%s%s", action, rate, url, size, term)
}

// start announces the transfer before the first byte arrives.
func (p *progress) start() {
	p.write("starting", color.New(color.FgCyan), false)
}

// waiting announces a pause before a retry.
func (p *progress) waiting(d time.Duration) {
	cell := fmt.Sprintf("%ds...", int(d.Seconds()))
	p.write(cell, color.New(color.FgCyan), false)
}

// tick redraws the display with the current transfer rate, painting the
// completed fraction of the URL cell in reverse video when the total size
// is known.
func (p *progress) tick(bytesPerSec float64) {
	action := fmt.Sprintf("%*s", actionWidth, p.action)
	cell := fmt.Sprintf("%-*s", rateWidth, formatSize(int64(bytesPerSec))+"/s")
	rate := color.New(color.FgYellow).Sprint(cell)

	url := p.urlCell()
	if p.total > 0 {
		c := int(int64(urlWidth) * p.downloaded / p.total)
		if c > urlWidth {
			c = urlWidth
		}
		url = color.New(color.ReverseVideo).Sprint(url[:c]) + url[c:]
	}

	size, known := p.sizeCell()
	if !known {
		size = color.New(color.FgYellow).Sprint(size)
	}
	fmt.Fprintf(p.w, "%s ::  %s  %s%s\r", action, rate, url, size)
}

// done announces a completed transfer.
func (p *progress) done() {
	p.write("done", color.New(color.FgGreen), true)
}

// fail announces a failed transfer with the error label.
func (p *progress) fail(label string) {
	p.write(label, color.New(color.FgRed), true)
}

// LogLine renders the journal entry for a finished transfer. Sizes below
// zero mean unknown.
func LogLine(status string, actual, total int64, url string) string {
	status = strings.ReplaceAll(status, " ", "_")
	return fmt.Sprintf("%-10s  %8s  %8s  %s\n",
		status, formatSize(actual), formatSize(total), url)
}
