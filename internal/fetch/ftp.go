package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// ftpResult is an open FTP data transfer. Listing is true when the server
// returned a directory listing instead of file contents.
type ftpResult struct {
	Body    io.ReadCloser
	Size    int64
	Listing bool
}

// ftpSession is a minimal FTP control connection covering what transfers
// need: login, transfer type, resume offset and passive-mode retrieval.
type ftpSession struct {
	text *textproto.Conn
	conn net.Conn
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
	ctx  context.Context
}

var (
	pasvPattern    = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)
	ftpSizePattern = regexp.MustCompile(`\((\d+) bytes\)`)
)

// openFTP retrieves an FTP URL. A rest offset greater than zero resumes
// the transfer from that position. Paths that name a directory, and file
// paths the server rejects with 550, produce an ASCII directory listing.
func openFTP(ctx context.Context, dial func(ctx context.Context, network, addr string) (net.Conn, error), u *url.URL, rest int64) (*ftpResult, error) {
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "21")
	}

	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Kind: classify(err), URL: u.String(), Err: err}
	}

	sess := &ftpSession{
		text: textproto.NewConn(conn),
		conn: conn,
		dial: dial,
		ctx:  ctx,
	}

	result, err := sess.retrieve(u, rest)
	if err != nil {
		sess.close()
		return nil, err
	}
	return result, nil
}

func (s *ftpSession) close() {
	_ = s.text.Close()
}

// cmd sends one control command and reads the reply, accepting any reply
// code in the expectCode class.
func (s *ftpSession) cmd(expectCode int, format string, args ...any) (int, string, error) {
	id, err := s.text.Cmd(format, args...)
	if err != nil {
		return 0, "", err
	}
	s.text.StartResponse(id)
	defer s.text.EndResponse(id)
	return s.text.ReadResponse(expectCode)
}

func (s *ftpSession) login(u *url.URL) error {
	if _, _, err := s.text.ReadResponse(220); err != nil {
		return s.protoErr(u, err)
	}

	user := "anonymous"
	pass := "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}

	code, _, err := s.cmd(0, "USER %s", user)
	if err != nil {
		return s.protoErr(u, err)
	}
	if code == 331 {
		code, _, err = s.cmd(0, "PASS %s", pass)
		if err != nil {
			return s.protoErr(u, err)
		}
	}
	if code != 230 {
		return &Error{Kind: KindAuth, URL: u.String(),
			Err: fmt.Errorf("login rejected with code %d", code)}
	}
	return nil
}

// openDataConn enters passive mode and connects to the announced port.
func (s *ftpSession) openDataConn(u *url.URL) (net.Conn, error) {
	_, msg, err := s.cmd(227, "PASV")
	if err != nil {
		return nil, s.protoErr(u, err)
	}
	m := pasvPattern.FindStringSubmatch(msg)
	if m == nil {
		return nil, &Error{Kind: KindURLError, URL: u.String(),
			Err: fmt.Errorf("unparseable PASV reply: %q", msg)}
	}

	nums := make([]int, 6)
	for i := range nums {
		nums[i], _ = strconv.Atoi(m[i+1])
	}
	host := fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	port := nums[4]<<8 | nums[5]

	return s.dial(s.ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

// transfer opens a data connection and issues the transfer command,
// expecting a preliminary 1xx reply.
func (s *ftpSession) transfer(u *url.URL, command string) (net.Conn, string, error) {
	data, err := s.openDataConn(u)
	if err != nil {
		return nil, "", err
	}
	// The path rides inside command; it must not be treated as a format
	// string, or a literal % in a filename is mangled on the wire.
	_, msg, err := s.cmd(1, "%s", command)
	if err != nil {
		_ = data.Close()
		return nil, "", s.protoErr(u, err)
	}
	return data, msg, nil
}

func (s *ftpSession) retrieve(u *url.URL, rest int64) (*ftpResult, error) {
	if err := s.login(u); err != nil {
		return nil, err
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	wantListing := strings.HasSuffix(path, "/")

	if !wantListing {
		if _, _, err := s.cmd(200, "TYPE I"); err != nil {
			return nil, s.protoErr(u, err)
		}
		if rest > 0 {
			if _, _, err := s.cmd(350, "REST %d", rest); err != nil {
				// A server that answers REST with anything but 350
				// cannot resume the transfer.
				var perr *textproto.Error
				if errors.As(err, &perr) {
					return nil, &Error{Kind: KindNoResume, URL: u.String(), Err: err}
				}
				return nil, s.protoErr(u, err)
			}
		}

		data, msg, err := s.transfer(u, "RETR "+path)
		if err == nil {
			return &ftpResult{
				Body: &ftpBody{Reader: data, data: data, sess: s},
				Size: parseFTPSize(msg, rest),
			}, nil
		}

		// A 550 on RETR usually means the path is a directory. Fall
		// through to a listing; everything else is final.
		var ferr *Error
		if !errors.As(err, &ferr) || ferr.Kind != FTPStatus(550) {
			return nil, err
		}
	}

	if _, _, err := s.cmd(200, "TYPE A"); err != nil {
		return nil, s.protoErr(u, err)
	}
	data, _, err := s.transfer(u, "LIST "+path)
	if err != nil {
		return nil, err
	}
	return &ftpResult{
		Body:    &ftpBody{Reader: data, data: data, sess: s},
		Size:    -1,
		Listing: true,
	}, nil
}

// protoErr wraps a control-channel failure. Permanent 5xx replies map to
// the auth kind, other reply codes to their FTP status kind, transport
// failures to their transport kind.
func (s *ftpSession) protoErr(u *url.URL, err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		kind := FTPStatus(protoErr.Code)
		if protoErr.Code >= 500 && protoErr.Code != 550 {
			kind = KindAuth
		}
		return &Error{Kind: kind, URL: u.String(), Err: err}
	}
	return &Error{Kind: classify(err), URL: u.String(), Err: err}
}

// parseFTPSize extracts the transfer length from a 150 reply, adjusting
// for a resume offset. Returns -1 when the server does not announce it.
func parseFTPSize(msg string, rest int64) int64 {
	m := ftpSizePattern.FindStringSubmatch(msg)
	if m == nil {
		return -1
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return -1
	}
	return n + rest
}

// ftpBody is the data stream of one transfer. Close tears down the data
// connection, drains the completion reply and quits the session.
type ftpBody struct {
	io.Reader
	data net.Conn
	sess *ftpSession
}

func (b *ftpBody) Close() error {
	err := b.data.Close()
	_, _, _ = b.sess.text.ReadResponse(226)
	_, _, _ = b.sess.cmd(221, "QUIT")
	b.sess.close()
	return err
}
