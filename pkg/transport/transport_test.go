package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"
)

func TestSerialConfig(t *testing.T) {
	testCases := []struct {
		url    string
		name   string
		baud   int
		parity serial.Parity
		stop   serial.StopBits
		bad    bool
	}{
		{url: "serial:///dev/ttyUSB0", name: "/dev/ttyUSB0", baud: DefaultBaud, parity: serial.ParityNone, stop: serial.Stop1},
		{url: "serial:///dev/ttyS1?baud=9600&parity=E&stop=2", name: "/dev/ttyS1", baud: 9600, parity: serial.ParityEven, stop: serial.Stop2},
		{url: "serial://COM3?parity=o", name: "COM3", baud: DefaultBaud, parity: serial.ParityOdd, stop: serial.Stop1},
		{url: "serial://", bad: true},
		{url: "serial:///dev/ttyS1?baud=fast", bad: true},
		{url: "serial:///dev/ttyS1?parity=X", bad: true},
		{url: "serial:///dev/ttyS1?stop=3", bad: true},
	}
	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			u, err := url.Parse(tc.url)
			require.NoError(t, err)
			conf, err := SerialConfig(u)
			if tc.bad {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.name, conf.Name)
			require.Equal(t, tc.baud, conf.Baud)
			require.Equal(t, tc.parity, conf.Parity)
			require.Equal(t, tc.stop, conf.StopBits)
		})
	}
}

func TestUnknownSchemes(t *testing.T) {
	_, err := Dial("udp://localhost:1")
	require.Error(t, err)
	_, err = Listen(context.Background(), "udp+listen://:0")
	require.Error(t, err)
	require.True(t, IsListen("ws+listen://:7701/link"))
	require.False(t, IsListen("ws://localhost:7701/link"))
}

func freeAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().String()
}

func dialRetry(t *testing.T, rawURL string) io.ReadWriteCloser {
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := Dial(rawURL)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", rawURL, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func testListenAndDial(t *testing.T, listenURL, dialURL string) {
	type result struct {
		conn io.ReadWriteCloser
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := Open(context.Background(), listenURL)
		ch <- result{conn, err}
	}()
	client := dialRetry(t, dialURL)
	defer client.Close()

	var server io.ReadWriteCloser
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		server = r.conn
	case <-time.After(2 * time.Second):
		t.Fatal("no peer accepted")
	}
	defer server.Close()

	_, err := client.Write([]byte{0xa5, 0x07})
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0xa5, 0x07}, buf)

	_, err = server.Write([]byte{0x01})
	require.NoError(t, err)
	_, err = io.ReadFull(client, buf[:1])
	require.NoError(t, err)
	require.Equal(t, byte(0x01), buf[0])
}

func TestTCPLink(t *testing.T) {
	addr := freeAddr(t)
	testListenAndDial(t, "tcp+listen://"+addr, "tcp://"+addr)
}

func TestWebsocketLink(t *testing.T) {
	addr := freeAddr(t)
	testListenAndDial(t, fmt.Sprintf("ws+listen://%s/link", addr), fmt.Sprintf("ws://%s/link", addr))
}

func TestListenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := Listen(ctx, "tcp+listen://"+freeAddr(t))
	require.Equal(t, context.Canceled, err)
}
