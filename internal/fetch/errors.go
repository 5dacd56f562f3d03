package fetch

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failed transfer. The base kinds cover transport and
// content failures; protocol status codes map into disjoint ranges so a
// Kind is always a single integer.
type Kind int

const (
	KindNone Kind = iota
	KindDNS
	KindTimeout
	KindSocket
	KindSSL
	KindAuth
	KindURLError
	KindIncomplete
	KindWrongType
	KindNoData
	KindRedirect
	KindChecksum
	KindNoResume
)

const (
	ftpStatusBase  = 1000
	httpStatusBase = 2000
)

// FTPStatus returns the Kind for an FTP reply code.
func FTPStatus(code int) Kind {
	return Kind(ftpStatusBase + code)
}

// HTTPStatus returns the Kind for an HTTP status code.
func HTTPStatus(code int) Kind {
	return Kind(httpStatusBase + code)
}

var kindLabels = map[Kind]string{
	KindDNS:        "dns",
	KindTimeout:    "timeout",
	KindSocket:     "socket",
	KindSSL:        "ssl",
	KindAuth:       "auth",
	KindURLError:   "url error",
	KindIncomplete: "incomplete",
	KindWrongType:  "wrong type",
	KindNoData:     "no data",
	KindRedirect:   "redirect",
	KindChecksum:   "checksum",
	KindNoResume:   "no resume",
}

// String returns the display label for the kind.
func (k Kind) String() string {
	if label, ok := kindLabels[k]; ok {
		return label
	}
	switch {
	case k >= httpStatusBase:
		return fmt.Sprintf("http %d", int(k)-httpStatusBase)
	case k >= ftpStatusBase:
		return fmt.Sprintf("ftp %d", int(k)-ftpStatusBase)
	}
	return fmt.Sprintf("error %d", int(k))
}

// Temporal reports whether the failure may clear up on its own, making a
// retry worthwhile.
func (k Kind) Temporal() bool {
	switch k {
	case KindTimeout, KindSocket, KindURLError, HTTPStatus(503):
		return true
	}
	return false
}

// Error is a classified transfer failure.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.URL)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Temporal reports whether retrying the transfer could succeed.
func (e *Error) Temporal() bool {
	return e.Kind.Temporal()
}

// ChangedURLError signals that the server redirected the request. The
// caller decides whether to follow NewURL, which is already resolved
// against the request URL.
type ChangedURLError struct {
	NewURL string
}

// Error implements the error interface.
func (e *ChangedURLError) Error() string {
	return fmt.Sprintf("redirected to %s", e.NewURL)
}

var (
	// ErrDuplicateURL means a redirect landed on a URL already seen.
	ErrDuplicateURL = errors.New("url redirects to a known url")

	// ErrRedirectsOffHost means a redirect left the allowed host.
	ErrRedirectsOffHost = errors.New("url redirects off the filtered host")
)

// classify maps a transport-level error onto a Kind. Anything it does not
// recognize becomes KindURLError.
func classify(err error) Kind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var (
		recordErr   tls.RecordHeaderError
		verifyErr   *tls.CertificateVerificationError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		certErr     x509.CertificateInvalidError
	)
	if errors.As(err, &recordErr) || errors.As(err, &verifyErr) ||
		errors.As(err, &unknownCA) || errors.As(err, &hostnameErr) ||
		errors.As(err, &certErr) {
		return KindSSL
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindSocket
	}

	return KindURLError
}
