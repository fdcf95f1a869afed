package publish

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Default destination of result datagrams.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 5052
)

// Publisher delivers recognition results downstream.
type Publisher interface {
	Publish(label string, confidence float64) error
	Close() error
}

// UDPPublisher sends each result as one datagram. Delivery is not
// confirmed and failed sends are not retried.
type UDPPublisher struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

// NewUDPPublisher creates a publisher sending to host:port.
func NewUDPPublisher(host string, port int) (*UDPPublisher, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &UDPPublisher{addr: addr, conn: conn}, nil
}

// Addr returns the destination address.
func (p *UDPPublisher) Addr() string {
	return p.addr
}

// Publish sends "label|confidence" as a single datagram.
func (p *UDPPublisher) Publish(label string, confidence float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return net.ErrClosed
	}
	if _, err := p.conn.Write(Encode(label, confidence)); err != nil {
		return fmt.Errorf("send to %s: %w", p.addr, err)
	}
	return nil
}

// Close releases the socket. Later Publish calls fail with net.ErrClosed.
func (p *UDPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
