// Package transport carries messages across fragment boundaries over a
// push/pull socket pair. A Transmitter dials the remote receiver's endpoint;
// a Receiver binds locally, optionally on an ephemeral port.
package transport

import (
	"fmt"
	"net"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pull"
	"go.nanomsg.org/mangos/v3/protocol/push"

	_ "go.nanomsg.org/mangos/v3/transport/all"
)

const dialBackoff = 200 * time.Millisecond

// Transmitter is the sending end of a boundary edge.
type Transmitter struct {
	sock mangos.Socket
	addr string
}

// NewTransmitter dials the receiver at host:port, retrying up to maxRetries
// times before giving up.
func NewTransmitter(host string, port, maxRetries int) (*Transmitter, error) {
	sock, err := push.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("creating push socket: %w", err)
	}
	addr := fmt.Sprintf("tcp://%s", net.JoinHostPort(host, fmt.Sprint(port)))

	var dialErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if dialErr = sock.Dial(addr); dialErr == nil {
			return &Transmitter{sock: sock, addr: addr}, nil
		}
		time.Sleep(dialBackoff)
	}
	_ = sock.Close()
	return nil, fmt.Errorf("dialing %s after %d attempts: %w", addr, maxRetries+1, dialErr)
}

// Send transmits one message.
func (t *Transmitter) Send(msg []byte) error {
	if err := t.sock.Send(msg); err != nil {
		return fmt.Errorf("sending to %s: %w", t.addr, err)
	}
	return nil
}

// Addr returns the dialed endpoint.
func (t *Transmitter) Addr() string { return t.addr }

// Close shuts the socket down.
func (t *Transmitter) Close() error { return t.sock.Close() }

// Receiver is the binding end of a boundary edge.
type Receiver struct {
	sock mangos.Socket
	addr string
	port int
}

// NewReceiver binds a pull socket on host:port. Port zero picks a free
// port.
func NewReceiver(host string, port int) (*Receiver, error) {
	if port == 0 {
		p, err := freePort(host)
		if err != nil {
			return nil, err
		}
		port = p
	}
	sock, err := pull.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("creating pull socket: %w", err)
	}
	addr := fmt.Sprintf("tcp://%s", net.JoinHostPort(host, fmt.Sprint(port)))
	if err := sock.Listen(addr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("binding %s: %w", addr, err)
	}
	return &Receiver{sock: sock, addr: addr, port: port}, nil
}

// Recv blocks until a message arrives or the receive deadline passes.
func (r *Receiver) Recv() ([]byte, error) {
	msg, err := r.sock.Recv()
	if err != nil {
		return nil, fmt.Errorf("receiving on %s: %w", r.addr, err)
	}
	return msg, nil
}

// SetRecvDeadline bounds how long Recv blocks.
func (r *Receiver) SetRecvDeadline(d time.Duration) error {
	return r.sock.SetOption(mangos.OptionRecvDeadline, d)
}

// Port returns the bound port.
func (r *Receiver) Port() int { return r.port }

// Addr returns the bound endpoint.
func (r *Receiver) Addr() string { return r.addr }

// Close shuts the socket down.
func (r *Receiver) Close() error { return r.sock.Close() }

func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("allocating port on %s: %w", host, err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
