package fetch

// Mode selects what a transfer is for. The values combine like bits, so
// ModeSpiderFetch both fetches and spiders.
type Mode int

const (
	ModeFetch       Mode = 1
	ModeSpider      Mode = 2
	ModeSpiderFetch Mode = ModeFetch | ModeSpider
)

// Fetches reports whether the transfer keeps the downloaded file.
func (m Mode) Fetches() bool {
	return m&ModeFetch != 0
}

// Spiders reports whether the downloaded content is scanned for links.
func (m Mode) Spiders() bool {
	return m&ModeSpider != 0
}

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeFetch:
		return "fetch"
	case ModeSpider:
		return "spider"
	case ModeSpiderFetch:
		return "spider_fetch"
	}
	return "unknown"
}
