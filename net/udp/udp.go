// Package udp provides the datagram channel used to exchange probe
// packets with a reference time server. The connection is established
// once and reused for many probes.

package udp

import (
	"errors"
	"net"
	"time"
)

var errWrite = errors.New("failed to write full packet")

type Conn struct {
	conn *net.UDPConn
}

// Dial connects to the given address so that only packets from the
// server are delivered on subsequent reads.
func Dial(address string) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

func (c *Conn) Send(b []byte) error {
	n, err := c.conn.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return errWrite
	}
	return nil
}

// Receive blocks for up to timeout for the next packet. A timeout value
// of zero or less blocks indefinitely. Timeouts are reported via errors
// satisfying net.Error with Timeout() == true.
func (c *Conn) Receive(b []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	err := c.conn.SetReadDeadline(deadline)
	if err != nil {
		return 0, err
	}
	return c.conn.Read(b)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IsTimeout reports whether err indicates an expired receive deadline.
func IsTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
