package cmd

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiretamper/wiretamper/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	defer func() { config.Flags = config.Overrides{} }()
	root := RootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "none.json")))
	err := root.Execute()
	return out.String(), err
}

func TestTraceCmd(t *testing.T) {
	out, err := execute(t, "trace")
	require.NoError(t, err)
	assert.Contains(t, out, "smtp\ttcp\thello,mail")
	assert.Contains(t, out, "dtls\tudp")

	out, err = execute(t, "trace", "hello", "--protocol", "smtp", "--role", "server")
	require.NoError(t, err)
	assert.Contains(t, out, "protocol: smtp")
	assert.Contains(t, out, "role: responder")

	_, err = execute(t, "trace", "nope", "-p", "smtp")
	assert.Error(t, err)
}

func TestRunCmdSubmit(t *testing.T) {
	var body, contentType, query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		contentType = r.Header.Get("Content-Type")
		query = r.URL.RawQuery
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"verdict":"pass"}`))
	}))
	defer srv.Close()

	out, err := execute(t, "run", "-p", "pop3", "--name", "remote", "--submit", strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	assert.Contains(t, out, `"verdict":"pass"`)
	assert.Equal(t, "application/yaml", contentType)
	assert.Equal(t, "name=remote", query)
	assert.Contains(t, body, "protocol: pop3")
}

func TestRunCmdBadTrace(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = execute(t, "run", "-p", "imap")
	assert.Error(t, err)
}

// smtpServer answers one EHLO/QUIT conversation on a local listener
func smtpServer(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("220 mx.test ready\r\n"))
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			switch {
			case strings.HasPrefix(line, "EHLO"):
				conn.Write([]byte("250-mx.test greets client\r\n250 8BITMIME\r\n"))
			case strings.HasPrefix(line, "QUIT"):
				conn.Write([]byte("221 bye\r\n"))
				return
			}
		}
	}()
	return l.Addr().String()
}

func TestRunCmd(t *testing.T) {
	addr := smtpServer(t)
	traceOut := filepath.Join(t.TempDir(), "executed.yaml")

	out, err := execute(t, "run", "-p", "smtp", "-t", addr, "--trace", "hello", "-o", traceOut)
	require.NoError(t, err)
	assert.Contains(t, out, `"verdict": "pass"`)

	raw, err := os.ReadFile(traceOut)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "actual:")
	assert.Contains(t, string(raw), "8BITMIME")
}
