package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// ftpStub is a scripted FTP server for one control session. It records
// every command line it receives and serves one data connection per
// transfer command.
type ftpStub struct {
	addr string

	mu       sync.Mutex
	commands []string
}

func (st *ftpStub) received() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]string(nil), st.commands...)
}

func startFTPStub(t *testing.T, payload string, acceptRest bool) *ftpStub {
	t.Helper()

	ctrl, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	data, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = ctrl.Close()
		_ = data.Close()
	})

	stub := &ftpStub{addr: ctrl.Addr().String()}
	go func() {
		conn, err := ctrl.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tc := textproto.NewConn(conn)
		_ = tc.PrintfLine("220 stub ready")

		dataCh := make(chan net.Conn, 1)
		for {
			line, err := tc.ReadLine()
			if err != nil {
				return
			}
			stub.mu.Lock()
			stub.commands = append(stub.commands, line)
			stub.mu.Unlock()

			verb := line
			if i := strings.IndexByte(line, ' '); i >= 0 {
				verb = line[:i]
			}
			switch verb {
			case "USER":
				_ = tc.PrintfLine("331 need password")
			case "PASS":
				_ = tc.PrintfLine("230 logged in")
			case "TYPE":
				_ = tc.PrintfLine("200 ok")
			case "REST":
				if acceptRest {
					_ = tc.PrintfLine("350 restarting")
				} else {
					_ = tc.PrintfLine("502 REST not implemented")
				}
			case "PASV":
				go func() {
					if c, err := data.Accept(); err == nil {
						dataCh <- c
					}
				}()
				_ = tc.PrintfLine("227 Entering Passive Mode (%s)", pasvHostPort(data.Addr()))
			case "RETR", "LIST":
				_ = tc.PrintfLine("150 Opening data connection (%d bytes)", len(payload))
				c := <-dataCh
				_, _ = c.Write([]byte(payload))
				_ = c.Close()
				_ = tc.PrintfLine("226 transfer complete")
			case "QUIT":
				_ = tc.PrintfLine("221 bye")
				return
			default:
				_ = tc.PrintfLine("502 not implemented")
			}
		}
	}()
	return stub
}

func pasvHostPort(addr net.Addr) string {
	tcp := addr.(*net.TCPAddr)
	ip := tcp.IP.To4()
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d",
		ip[0], ip[1], ip[2], ip[3], tcp.Port>>8, tcp.Port&255)
}

func testDial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

func TestFTPRetrieve(t *testing.T) {
	t.Parallel()

	stub := startFTPStub(t, "CONTENT", true)
	u, err := url.Parse("ftp://" + stub.addr + "/pub/file.bin")
	if err != nil {
		t.Fatal(err)
	}

	result, err := openFTP(context.Background(), testDial, u, 0)
	if err != nil {
		t.Fatalf("openFTP() error = %v", err)
	}
	defer result.Body.Close()

	if result.Size != int64(len("CONTENT")) {
		t.Errorf("Size = %d, want %d", result.Size, len("CONTENT"))
	}
	body, err := io.ReadAll(result.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(body) != "CONTENT" {
		t.Errorf("body = %q, want CONTENT", body)
	}
}

func TestFTPRetrievePercentInPath(t *testing.T) {
	t.Parallel()

	stub := startFTPStub(t, "CONTENT", true)

	// The encoded %25 decodes to a literal % in the path, which must
	// reach the server byte for byte.
	u, err := url.Parse("ftp://" + stub.addr + "/my%25file.txt")
	if err != nil {
		t.Fatal(err)
	}

	result, err := openFTP(context.Background(), testDial, u, 0)
	if err != nil {
		t.Fatalf("openFTP() error = %v", err)
	}
	defer result.Body.Close()
	if _, err := io.ReadAll(result.Body); err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	found := false
	for _, c := range stub.received() {
		if c == "RETR /my%file.txt" {
			found = true
		}
		if strings.Contains(c, "%!") {
			t.Errorf("mangled command on the wire: %q", c)
		}
	}
	if !found {
		t.Errorf("commands = %v, want RETR /my%%file.txt", stub.received())
	}
}

func TestFTPRestRejectedMeansNoResume(t *testing.T) {
	t.Parallel()

	stub := startFTPStub(t, "CONTENT", false)
	u, err := url.Parse("ftp://" + stub.addr + "/pub/file.bin")
	if err != nil {
		t.Fatal(err)
	}

	_, err = openFTP(context.Background(), testDial, u, 100)
	var ferr *Error
	if !errors.As(err, &ferr) {
		t.Fatalf("openFTP() error = %v, want *Error", err)
	}
	if ferr.Kind != KindNoResume {
		t.Errorf("Kind = %v, want %v", ferr.Kind, KindNoResume)
	}
}
