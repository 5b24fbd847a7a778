// Package httpd is the HTTP framing layer: it owns the listener(s) and
// the one place in this daemon where an IPP-over-HTTP request is decoded
// off a TCP connection and an IPP-over-HTTP response (plus, for
// Fetch-Document, the actual document bytes) is written back to one,
// handing the decoded message to internal/dispatch.Dispatcher.Handle for
// everything past the wire. Grounded on the teacher's listener.go
// (Listener/NewListener/Accept) and http.go (HTTPProxy/ServeHTTP),
// generalized from one listening port per USB device into one shared
// listener routing every printer by path, since internal/dispatch already
// does that routing itself.
package httpd

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Listener wraps net.Listener the way the teacher's Listener does:
// Accept() filters out non-loopback connections when required and tunes
// TCP keepalive on every accepted connection.
type Listener struct {
	net.Listener
	loopbackOnly bool
}

// Listen binds the first free port in [minPort, maxPort] and returns a
// Listener ready for http.Server.Serve, plus the port it bound. Grounded
// on the teacher's NewListener, generalized from a single fixed port to a
// scan over a configured range, since this daemon picks one shared port
// rather than being handed one by the USB hotplug layer.
func Listen(minPort, maxPort int, loopbackOnly, ipv6Enable bool) (*Listener, int, error) {
	network := "tcp4"
	if ipv6Enable {
		network = "tcp"
	}

	var lastErr error
	for port := minPort; port <= maxPort; port++ {
		nl, err := net.Listen(network, ":"+strconv.Itoa(port))
		if err != nil {
			lastErr = err
			continue
		}
		return &Listener{Listener: nl, loopbackOnly: loopbackOnly}, port, nil
	}
	return nil, 0, fmt.Errorf("httpd: no free port in [%d, %d]: %w", minPort, maxPort, lastErr)
}

// Accept implements net.Listener, filtering out non-loopback connections
// when loopbackOnly is set and enabling TCP keepalive on every accepted
// connection, per the teacher's Listener.Accept.
func (l *Listener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		tcpconn, ok := conn.(*net.TCPConn)
		if !ok {
			return conn, nil
		}

		if l.loopbackOnly && !tcpconn.RemoteAddr().(*net.TCPAddr).IP.IsLoopback() {
			tcpconn.SetLinger(0)
			tcpconn.Close()
			continue
		}

		tcpconn.SetKeepAlive(true)
		tcpconn.SetKeepAlivePeriod(20 * time.Second)
		return tcpconn, nil
	}
}
