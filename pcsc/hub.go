// Package pcsc connects the updater to Secalot tokens through a PC/SC
// daemon (pcscd), speaking its socket protocol with go-libpcsclite.
//
// Example:
//
//	hub, err := pcsc.Open(pcsc.DefaultSocket)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer hub.Close()
//	u := updater.New(hub)
package pcsc

import (
	"errors"
	"fmt"
	"sync"

	libpcsc "github.com/gballet/go-libpcsclite"

	"github.com/moffa90/go-secalot/updater"
)

// DefaultSocket is the pcscd socket path on Linux.
const DefaultSocket = libpcsc.PCSCDSockName

// ErrClosed is returned by a Hub after Close.
var ErrClosed = errors.New("pcsc hub closed")

// session is one established PC/SC context.
type session interface {
	ListReaders() ([]string, error)
	Connect(reader string) (updater.Card, error)
	Release() error
}

// Hub is an updater.Hub backed by a PC/SC context. A failed reader listing
// drops the context; the next call establishes a new one, which recovers
// from daemon restarts and stale contexts after USB re-enumeration.
type Hub struct {
	socket string
	dial   func(socket string) (session, error)

	mu      sync.Mutex
	session session
	closed  bool
}

// Open establishes a context with the daemon listening on socket.
func Open(socket string) (*Hub, error) {
	return openWith(socket, dialLib)
}

func openWith(socket string, dial func(string) (session, error)) (*Hub, error) {
	if socket == "" {
		socket = DefaultSocket
	}
	h := &Hub{socket: socket, dial: dial}
	if _, err := h.current(); err != nil {
		return nil, err
	}
	return h, nil
}

// current returns the live session, establishing one if needed.
// The caller must hold h.mu or be the constructor.
func (h *Hub) current() (session, error) {
	if h.closed {
		return nil, ErrClosed
	}
	if h.session == nil {
		s, err := h.dial(h.socket)
		if err != nil {
			return nil, fmt.Errorf("establish context on %s: %w", h.socket, err)
		}
		h.session = s
	}
	return h.session, nil
}

// reset drops the session so the next call re-establishes it.
func (h *Hub) reset() {
	if h.session != nil {
		_ = h.session.Release()
		h.session = nil
	}
}

// Readers implements updater.Hub.
func (h *Hub) Readers() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.current()
	if err != nil {
		return nil, err
	}
	readers, err := s.ListReaders()
	if err != nil {
		h.reset()
		return nil, fmt.Errorf("list readers: %w", err)
	}
	return readers, nil
}

// Connect implements updater.Hub. The card is opened in shared mode with
// any protocol.
func (h *Hub) Connect(reader string) (updater.Card, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.current()
	if err != nil {
		return nil, err
	}
	return s.Connect(reader)
}

// Close releases the context. Cards opened through the hub must be closed
// first.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if h.session == nil {
		return nil
	}
	err := h.session.Release()
	h.session = nil
	return err
}

// libSession adapts a go-libpcsclite client.
type libSession struct {
	client *libpcsc.Client
}

func dialLib(socket string) (session, error) {
	client, err := libpcsc.EstablishContext(socket, libpcsc.ScopeSystem)
	if err != nil {
		return nil, err
	}
	return &libSession{client: client}, nil
}

func (s *libSession) ListReaders() ([]string, error) {
	return s.client.ListReaders()
}

func (s *libSession) Connect(reader string) (updater.Card, error) {
	card, err := s.client.Connect(reader, libpcsc.ShareShared, libpcsc.ProtocolAny)
	if err != nil {
		return nil, fmt.Errorf("connect %q: %w", reader, err)
	}
	return &libCard{card: card}, nil
}

func (s *libSession) Release() error {
	return s.client.ReleaseContext()
}

// libCard adapts a go-libpcsclite card.
type libCard struct {
	card *libpcsc.Card
}

func (c *libCard) Transmit(cmd []byte) ([]byte, error) {
	resp, _, err := c.card.Transmit(cmd)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *libCard) Close() error {
	return c.card.Disconnect(libpcsc.LeaveCard)
}
