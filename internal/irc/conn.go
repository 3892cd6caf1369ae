package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/terrarium-irc/internal/buildinfo"
)

// WebSocketSubprotocol is the IRCv3 text WebSocket subprotocol: one IRC
// line per text frame, no CRLF.
const WebSocketSubprotocol = "text.ircv3.net"

// Conn carries IRC lines. Implementations strip and add line endings.
type Conn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

// tcpConn is a line-oriented TCP or TLS connection.
type tcpConn struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// DialTCP connects to addr, wrapping the socket in TLS when useTLS is
// set. tlsConfig may be nil.
func DialTCP(ctx context.Context, addr string, useTLS bool, tlsConfig *tls.Config) (Conn, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 60 * time.Second}

	var (
		conn net.Conn
		err  error
	)
	if useTLS {
		if tlsConfig == nil {
			host, _, _ := net.SplitHostPort(addr)
			tlsConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
		}
		td := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return newTCPConn(conn), nil
}

func newTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{conn: conn, reader: bufio.NewReaderSize(conn, 4096)}
}

func (c *tcpConn) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *tcpConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

func (c *tcpConn) Close() error { return c.conn.Close() }

// wsConn is an IRCv3 WebSocket connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// DialWebSocket connects to an IRC WebSocket gateway such as
// wss://irc.example.net/webirc.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 30 * time.Second,
		Subprotocols:     []string{WebSocketSubprotocol},
	}
	header := http.Header{}
	header.Set("User-Agent", buildinfo.UserAgent())

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", url, err)
	}
	if conn.Subprotocol() != WebSocketSubprotocol {
		conn.Close()
		return nil, fmt.Errorf("websocket gateway refused %s subprotocol", WebSocketSubprotocol)
	}
	conn.SetReadLimit(maxLineBytes * 16)
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) ReadLine() (string, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func (c *wsConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

// isClosed reports whether err means the peer went away normally.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
