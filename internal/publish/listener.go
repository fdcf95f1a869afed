package publish

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// maxDatagram bounds the size of a received result.
const maxDatagram = 2048

// Message is one decoded result received by a Listener.
type Message struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"received_at"`
}

// Listener receives result datagrams, as a downstream consumer would.
type Listener struct {
	conn   *net.UDPConn
	logger *zap.SugaredLogger
}

// Listen binds a UDP socket on addr, for example "127.0.0.1:5052" or
// "127.0.0.1:0" for an ephemeral port.
func Listen(addr string, logger *zap.SugaredLogger) (*Listener, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{conn: conn, logger: logger}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Messages delivers decoded results until ctx is cancelled or the listener
// is closed, then closes the channel. Malformed datagrams are logged and
// dropped.
func (l *Listener) Messages(ctx context.Context) <-chan Message {
	out := make(chan Message, 16)

	stop := context.AfterFunc(ctx, func() { l.conn.Close() })

	go func() {
		defer close(out)
		defer stop()

		buf := make([]byte, maxDatagram)
		for {
			n, from, err := l.conn.ReadFromUDP(buf)
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					l.logger.Warnw("udp read failed", "error", err)
				}
				return
			}

			label, confidence, err := Decode(buf[:n])
			if err != nil {
				l.logger.Debugw("dropping datagram", "from", from, "error", err)
				continue
			}

			msg := Message{
				Label:      label,
				Confidence: confidence,
				From:       from.String(),
				ReceivedAt: time.Now(),
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Close releases the socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}
