// Package transport opens the byte stream a link runs on.
//
// Supported URLs:
//
//	serial:///dev/ttyUSB0?baud=115200&parity=E&stop=1
//	tcp://host:port
//	ws://host:port/path
//	tcp+listen://:7700           accepts a single peer
//	ws+listen://:7701/link       accepts a single peer
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/tarm/serial"
	"golang.org/x/net/websocket"
)

// DefaultBaud is the baud rate when none is given.
const DefaultBaud = 115200

// IsListen indicates the URL waits for the peer to connect.
func IsListen(rawURL string) bool {
	return strings.Contains(rawURL, "+listen://")
}

// Open dials or listens depending on the URL.
func Open(ctx context.Context, rawURL string) (io.ReadWriteCloser, error) {
	if IsListen(rawURL) {
		return Listen(ctx, rawURL)
	}
	return Dial(rawURL)
}

// Dial opens an outgoing link.
func Dial(rawURL string) (io.ReadWriteCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid link URL: %w", err)
	}
	switch u.Scheme {
	case "serial":
		conf, err := SerialConfig(u)
		if err != nil {
			return nil, err
		}
		port, err := serial.OpenPort(conf)
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", conf.Name, err)
		}
		glog.Infof("serial %s @%d", conf.Name, conf.Baud)
		return port, nil
	case "tcp":
		return net.Dial("tcp", u.Host)
	case "ws", "wss":
		origin := "http://" + u.Host + "/"
		conn, err := websocket.Dial(u.String(), "", origin)
		if err != nil {
			return nil, err
		}
		conn.PayloadType = websocket.BinaryFrame
		return conn, nil
	default:
		return nil, fmt.Errorf("unknown link URL scheme: %q", u.Scheme)
	}
}

// SerialConfig builds the port settings from a serial:// URL.
func SerialConfig(u *url.URL) (*serial.Config, error) {
	conf := &serial.Config{
		Name: u.Host + u.Path,
		Baud: DefaultBaud,
	}
	if conf.Name == "" {
		return nil, fmt.Errorf("serial URL without device: %q", u.String())
	}
	q := u.Query()
	if val := q.Get("baud"); val != "" {
		baud, err := strconv.Atoi(val)
		if err != nil || baud <= 0 {
			return nil, fmt.Errorf("invalid baud %q", val)
		}
		conf.Baud = baud
	}
	switch strings.ToUpper(q.Get("parity")) {
	case "", "N":
		conf.Parity = serial.ParityNone
	case "E":
		conf.Parity = serial.ParityEven
	case "O":
		conf.Parity = serial.ParityOdd
	default:
		return nil, fmt.Errorf("invalid parity %q", q.Get("parity"))
	}
	switch q.Get("stop") {
	case "", "1":
		conf.StopBits = serial.Stop1
	case "2":
		conf.StopBits = serial.Stop2
	default:
		return nil, fmt.Errorf("invalid stop bits %q", q.Get("stop"))
	}
	return conf, nil
}

// Listen waits for exactly one peer and returns its connection.
func Listen(ctx context.Context, rawURL string) (io.ReadWriteCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid link URL: %w", err)
	}
	switch u.Scheme {
	case "tcp+listen":
		return listenTCP(ctx, u.Host)
	case "ws+listen":
		return listenWebsocket(ctx, u.Host, u.Path)
	default:
		return nil, fmt.Errorf("unknown listen URL scheme: %q", u.Scheme)
	}
}

func listenTCP(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	glog.Infof("waiting for link peer on tcp %s", ln.Addr())
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	glog.Infof("link peer %s connected", conn.RemoteAddr())
	return conn, nil
}

// wsConn keeps the websocket handler alive until the link closes it.
type wsConn struct {
	*websocket.Conn
	srv  *http.Server
	once sync.Once
	done chan struct{}
}

func (c *wsConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() {
		close(c.done)
		go c.srv.Close()
	})
	return err
}

func listenWebsocket(ctx context.Context, addr, path string) (io.ReadWriteCloser, error) {
	if path == "" {
		path = "/"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	connCh := make(chan *wsConn, 1)
	mux := http.NewServeMux()
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	var accepted sync.Once
	mux.Handle(path, websocket.Handler(func(conn *websocket.Conn) {
		var wc *wsConn
		accepted.Do(func() {
			conn.PayloadType = websocket.BinaryFrame
			wc = &wsConn{Conn: conn, srv: srv, done: make(chan struct{})}
		})
		if wc == nil {
			glog.Warningf("reject extra link peer %s", conn.Request().RemoteAddr)
			return
		}
		connCh <- wc
		<-wc.done
	}))
	go srv.Serve(ln)
	glog.Infof("waiting for link peer on ws %s%s", ln.Addr(), path)
	select {
	case conn := <-connCh:
		glog.Infof("link peer %s connected", conn.Request().RemoteAddr)
		return conn, nil
	case <-ctx.Done():
		srv.Close()
		return nil, ctx.Err()
	}
}
