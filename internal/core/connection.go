package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/Beacon/internal/domain"
)

type ConnectionID string

func NewConnectionID() ConnectionID { return ConnectionID(uuid.NewString()) }

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	ErrInvalidTransition = errors.New("invalid connection state transition")
	ErrNotActive         = errors.New("connection not active")
)

// Connection is one admitted realtime client.
// Identity is set once on authentication and never changes.
type Connection struct {
	id          ConnectionID
	connectedAt time.Time

	mu       sync.RWMutex
	state    ConnState
	identity *domain.Identity
	signal   SignalConnection
}

func NewConnection(signal SignalConnection) *Connection {
	return &Connection{
		id:          NewConnectionID(),
		connectedAt: time.Now(),
		state:       StateConnecting,
		signal:      signal,
	}
}

func (c *Connection) ID() ConnectionID       { return c.id }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

func (c *Connection) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) Identity() *domain.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Authenticate moves Connecting -> Authenticated.
func (c *Connection) Authenticate(id *domain.Identity) error {
	if id == nil {
		return fmt.Errorf("%w: nil identity", ErrInvalidTransition)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, StateAuthenticated)
	}
	c.identity = id
	c.state = StateAuthenticated
	return nil
}

// Attach binds the transport once it exists. Admission can precede the upgrade.
func (c *Connection) Attach(sig SignalConnection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrConnectionClosed
	}
	if c.signal != nil {
		return fmt.Errorf("%w: transport already attached", ErrInvalidTransition)
	}
	c.signal = sig
	return nil
}

// Activate moves Authenticated -> Active. Only active connections receive events.
func (c *Connection) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, StateActive)
	}
	c.state = StateActive
	return nil
}

// Close moves any state to Closed and releases the transport.
// It reports whether this call performed the transition.
func (c *Connection) Close() bool {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = StateClosed
	sig := c.signal
	c.mu.Unlock()

	if sig != nil {
		sig.Close()
	}
	return true
}

// Send writes a frame if the connection is active.
func (c *Connection) Send(f Frame) error {
	c.mu.RLock()
	state, sig := c.state, c.signal
	c.mu.RUnlock()

	switch {
	case state == StateClosed:
		return ErrConnectionClosed
	case state != StateActive:
		return ErrNotActive
	case sig == nil:
		return ErrConnectionClosed
	}
	return sig.TrySend(f)
}
