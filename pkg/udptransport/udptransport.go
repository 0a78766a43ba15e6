// Package udptransport provides the non-blocking UDP datagram I/O the
// engine's connection objects sit on top of (spec.md §5): a background
// reader goroutine feeds arrived datagrams into a bounded queue so that
// Recv never blocks the single-threaded cooperative scheduler, matching
// "the transport layer delivers arrived datagrams as a bounded queue;
// recv() returns the next or None."
package udptransport

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/tickreplica/engine/pkg/logging"
	"go.uber.org/zap"
)

// MaxDatagramSize bounds one read, comfortably above the packet builder's
// MTUPayloadBytes so a single recv always captures a whole datagram.
const MaxDatagramSize = 2048

// incomingDatagram is one arrived datagram awaiting Recv.
type incomingDatagram struct {
	payload []byte
	addr    *net.UDPAddr
}

// Conn is a non-blocking UDP datagram endpoint.
type Conn struct {
	conn    *net.UDPConn
	queue   chan incomingDatagram
	closeCh chan struct{}
}

// Listen opens a UDP socket bound to localAddr and starts the background
// reader. localAddr may be "" or ":port" to bind to all interfaces.
func Listen(localAddr string, queueDepth int) (*Conn, error) {
	udpAddr, err := ResolveUDPTarget(localAddr)
	if err != nil {
		return nil, fmt.Errorf("udptransport: resolve local address: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("udptransport: listen: %w", err)
	}

	c := &Conn{
		conn:    conn,
		queue:   make(chan incomingDatagram, queueDepth),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.closeCh:
				return
			default:
				logging.Warn("udptransport: read failed", zap.Error(err))
				return
			}
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])

		select {
		case c.queue <- incomingDatagram{payload: payload, addr: addr}:
		default:
			logging.Warn("udptransport: incoming queue full, dropping datagram")
		}
	}
}

// Send writes payload to addr.
func (c *Conn) Send(addr string, payload []byte) error {
	udpAddr, err := ResolveUDPTarget(addr)
	if err != nil {
		return fmt.Errorf("udptransport: resolve send address: %w", err)
	}
	_, err = c.conn.WriteToUDP(payload, udpAddr)
	return err
}

// Recv returns the next queued datagram without blocking, or ok=false if
// none has arrived.
func (c *Conn) Recv() (payload []byte, addr *net.UDPAddr, ok bool) {
	select {
	case d := <-c.queue:
		return d.payload, d.addr, true
	default:
		return nil, nil, false
	}
}

// LocalAddr returns the socket's bound local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close stops the reader goroutine and closes the underlying socket.
func (c *Conn) Close() error {
	close(c.closeCh)
	return c.conn.Close()
}

// ResolveUDPTarget resolves a UDP address string that may be an IP, FQDN, or
// empty. If it's empty or ":port", it binds to 0.0.0.0:<port>. For FQDNs, it
// picks the first resolved IP (logging how many candidates were found).
func ResolveUDPTarget(addr string) (*net.UDPAddr, error) {
	if addr == "" {
		return &net.UDPAddr{IP: net.IPv4zero, Port: 0}, nil
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		if after, ok := strings.CutPrefix(addr, ":"); ok {
			portStr = after
			host = ""
		} else {
			return nil, fmt.Errorf("invalid addr %q: %w", addr, err)
		}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q: %w", addr, err)
	}

	if host == "" {
		return &net.UDPAddr{IP: net.IPv4zero, Port: port}, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return nil, fmt.Errorf("DNS lookup failed for %q: %w", host, err)
	}
	logging.Debug("resolved host to multiple addresses, picking the first",
		zap.String("host", host), zap.Int("candidates", len(ips)))

	return &net.UDPAddr{IP: ips[0], Port: port}, nil
}
