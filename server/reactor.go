package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/carloslauriano/glomail/logger"
	"github.com/carloslauriano/glomail/metrics"
	"github.com/carloslauriano/glomail/protocol"
	"golang.org/x/sync/errgroup"
)

// readEvent é um quadro (ou erro de leitura) entregue ao laço do reator
type readEvent struct {
	conn *Connection
	text string
	err  error
}

// completion é a resposta de um envio feito fora do laço
type completion struct {
	conn  *Connection
	reply protocol.Envelope
}

// Reactor atende todas as conexões do protocolo principal. Uma única
// goroutine é dona do conjunto de conexões e processa uma requisição por vez;
// cada conexão tem uma goroutine de leitura que entrega um quadro e aguarda
// a resposta antes de ler o próximo.
type Reactor struct {
	auth          *Authenticator
	dispatcher    *Dispatcher
	maxFrameBytes int
	relayWorkers  int

	conns       map[string]*Connection
	events      chan readEvent
	completions chan completion
	workers     *errgroup.Group
}

// NewReactor cria o reator. relayWorkers > 0 move os envios pelo relay para
// um grupo limitado de goroutines; 0 os executa no próprio laço.
func NewReactor(auth *Authenticator, dispatcher *Dispatcher, maxFrameBytes, relayWorkers int) *Reactor {
	return &Reactor{
		auth:          auth,
		dispatcher:    dispatcher,
		maxFrameBytes: maxFrameBytes,
		relayWorkers:  relayWorkers,
		conns:         make(map[string]*Connection),
		events:        make(chan readEvent),
		completions:   make(chan completion),
	}
}

// ListenAndServe escuta em addr e chama Serve
func (r *Reactor) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("falha ao escutar em %s: %w", addr, err)
	}
	return r.Serve(ctx, l)
}

// Serve aceita conexões em l até ctx ser cancelado, quando fecha o listener
// e todas as conexões e retorna ErrServerClosed.
func (r *Reactor) Serve(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		r.shutdown(l)
	}()

	if r.relayWorkers > 0 {
		r.workers = &errgroup.Group{}
		r.workers.SetLimit(r.relayWorkers)
	}

	accepted := make(chan net.Conn)
	acceptErr := make(chan error, 1)
	go r.acceptLoop(ctx, l, accepted, acceptErr)

	logger.Info("servidor de correio escutando", "addr", l.Addr().String())

	for {
		select {
		case <-ctx.Done():
			return ErrServerClosed
		case err := <-acceptErr:
			return fmt.Errorf("falha ao aceitar conexão: %w", err)
		case nc := <-accepted:
			r.register(ctx, nc)
		case ev := <-r.events:
			r.handle(ctx, ev)
		case c := <-r.completions:
			if _, ok := r.conns[c.conn.id]; ok {
				r.send(c.conn, c.reply)
			}
		}
	}
}

func (r *Reactor) acceptLoop(ctx context.Context, l net.Listener, accepted chan<- net.Conn, acceptErr chan<- error) {
	for {
		nc, err := l.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr <- err
			}
			return
		}

		select {
		case accepted <- nc:
		case <-ctx.Done():
			nc.Close()
			return
		}
	}
}

func (r *Reactor) register(ctx context.Context, nc net.Conn) {
	conn := newConnection(nc, r.maxFrameBytes)
	r.conns[conn.id] = conn

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsCurrent.Inc()
	conn.log.Info("nova conexão")

	go r.readLoop(ctx, conn)
}

// readLoop lê um quadro por vez e só continua após a resposta do reator
func (r *Reactor) readLoop(ctx context.Context, conn *Connection) {
	for {
		text, err := conn.frames.ReadFrame()

		select {
		case r.events <- readEvent{conn: conn, text: text, err: err}:
		case <-conn.done:
			return
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}

		select {
		case <-conn.resume:
		case <-conn.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reactor) handle(ctx context.Context, ev readEvent) {
	conn, ok := r.conns[ev.conn.id]
	if !ok {
		return
	}

	if ev.err != nil {
		if errors.Is(ev.err, io.EOF) {
			r.drop(conn, "eof", nil)
		} else {
			r.drop(conn, "read", ev.err)
		}
		return
	}

	env, err := protocol.Decode(ev.text)
	if err != nil {
		r.drop(conn, "decode", err)
		return
	}

	if !conn.Authenticated() {
		r.send(conn, r.auth.Handle(conn, env))
		return
	}

	res := r.dispatcher.Dispatch(ctx, conn.username, env)
	if res.Deferred == nil {
		r.send(conn, res.Reply)
		return
	}
	if r.offload(ctx, conn, res.Deferred) {
		return
	}
	r.send(conn, res.Deferred(ctx))
}

// offload executa deferred no grupo de envio; false se o grupo está cheio ou desativado
func (r *Reactor) offload(ctx context.Context, conn *Connection, deferred func(context.Context) protocol.Envelope) bool {
	if r.workers == nil {
		return false
	}
	return r.workers.TryGo(func() error {
		reply := deferred(ctx)
		select {
		case r.completions <- completion{conn: conn, reply: reply}:
		case <-ctx.Done():
		}
		return nil
	})
}

func (r *Reactor) send(conn *Connection, env protocol.Envelope) {
	err := conn.frames.WriteEnvelope(env)
	if errors.Is(err, protocol.ErrFrameTooLarge) {
		// Nada foi escrito; a sessão continua com uma resposta ERROR
		conn.log.Warn("resposta excede o tamanho máximo do quadro", "header", env.Header, "error", err)
		metrics.ProtocolErrorsTotal.WithLabelValues("reply_too_large").Inc()
		err = conn.frames.WriteEnvelope(protocol.ErrorEnvelope(ErrReplyTooLarge))
	}
	if err != nil {
		r.drop(conn, "write", err)
		return
	}
	conn.resume <- struct{}{}
}

func (r *Reactor) drop(conn *Connection, reason string, err error) {
	if _, ok := r.conns[conn.id]; !ok {
		return
	}
	delete(r.conns, conn.id)
	conn.close()

	metrics.ConnectionsCurrent.Dec()
	duration := time.Since(conn.opened)
	if err != nil {
		metrics.ProtocolErrorsTotal.WithLabelValues(reason).Inc()
		conn.log.Warn("conexão encerrada", "reason", reason, "duration", duration, "error", err)
		return
	}
	conn.log.Info("conexão encerrada", "reason", reason, "duration", duration)
}

func (r *Reactor) shutdown(l net.Listener) {
	l.Close()
	for _, conn := range r.conns {
		conn.close()
		metrics.ConnectionsCurrent.Dec()
	}
	clear(r.conns)

	if r.workers != nil {
		r.workers.Wait()
	}
	logger.Info("servidor de correio encerrado")
}
