package server

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/carloslauriano/glomail/logger"
	"github.com/carloslauriano/glomail/metrics"
	"github.com/carloslauriano/glomail/protocol"
	"github.com/google/uuid"
)

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticated
)

func (s sessionState) String() string {
	switch s {
	case stateUnauthenticated:
		return "UNAUTHENTICATED"
	case stateAuthenticated:
		return "AUTHENTICATED"
	}
	return "UNKNOWN"
}

// Connection é a sessão de um cliente do protocolo principal.
// Estado e usuário só são alterados pela goroutine do reator.
type Connection struct {
	id       string
	frames   *protocol.FrameConn
	state    sessionState
	username string
	opened   time.Time
	log      *slog.Logger

	resume    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(conn net.Conn, maxFrameBytes int) *Connection {
	id := uuid.NewString()
	return &Connection{
		id:     id,
		frames: protocol.NewFrameConn(conn, maxFrameBytes),
		state:  stateUnauthenticated,
		opened: time.Now(),
		log:    logger.With("conn", id, "remote", conn.RemoteAddr().String()),
		resume: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Username retorna o usuário autenticado, ou "" antes da autenticação
func (c *Connection) Username() string {
	return c.username
}

// Authenticated indica se a conexão já passou pela autenticação
func (c *Connection) Authenticated() bool {
	return c.state == stateAuthenticated
}

func (c *Connection) authenticate(username string) {
	if c.state == stateAuthenticated {
		return
	}
	c.state = stateAuthenticated
	c.username = username
	c.log = c.log.With("user", username)
	metrics.AuthenticatedConnectionsCurrent.Inc()
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.frames.Close()
		if c.state == stateAuthenticated {
			metrics.AuthenticatedConnectionsCurrent.Dec()
		}
	})
}
