package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carloslauriano/glomail/storage"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayedMessage struct {
	From string
	To   []string
	Data []byte
}

// fakeSMTPBackend é um servidor SMTP em memória para os testes do relay
type fakeSMTPBackend struct {
	mu       sync.Mutex
	messages []relayedMessage
	rcptErr  error
}

func (b *fakeSMTPBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &fakeSMTPSession{backend: b}, nil
}

func (b *fakeSMTPBackend) received() []relayedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]relayedMessage(nil), b.messages...)
}

type fakeSMTPSession struct {
	backend *fakeSMTPBackend
	from    string
	to      []string
}

func (s *fakeSMTPSession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *fakeSMTPSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	if s.backend.rcptErr != nil {
		return s.backend.rcptErr
	}
	s.to = append(s.to, to)
	return nil
}

func (s *fakeSMTPSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, relayedMessage{From: s.from, To: s.to, Data: data})
	s.backend.mu.Unlock()
	return nil
}

func (s *fakeSMTPSession) Reset() {}

func (s *fakeSMTPSession) Logout() error {
	return nil
}

func startFakeSMTP(t *testing.T, be smtp.Backend) string {
	t.Helper()
	s := smtp.NewServer(be)
	s.Domain = "relay.test"

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	return l.Addr().String()
}

func relayMessageFixture() *storage.Message {
	return &storage.Message{
		Source:      "alice@glo-2000.ca",
		Destination: "x@exemplo.com",
		Subject:     "Olá de fora",
		Body:        "corpo da mensagem\r\n",
		Date:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSMTPRelayDeliver(t *testing.T) {
	be := &fakeSMTPBackend{}
	relay := &SMTPRelay{Addr: startFakeSMTP(t, be), LocalName: testDomain, Timeout: 5 * time.Second}

	require.NoError(t, relay.Deliver(context.Background(), relayMessageFixture()))

	received := be.received()
	require.Len(t, received, 1)
	assert.Equal(t, "alice@glo-2000.ca", received[0].From)
	assert.Equal(t, []string{"x@exemplo.com"}, received[0].To)

	parsed, err := parseMessage(strings.NewReader(string(received[0].Data)))
	require.NoError(t, err)
	assert.Equal(t, "Olá de fora", parsed.Subject)
	assert.Equal(t, "corpo da mensagem\r\n", parsed.Body)
}

func TestSMTPRelayRejection(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		permanent bool
	}{
		{"permanente", 550, true},
		{"temporária", 451, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := &fakeSMTPBackend{rcptErr: &smtp.SMTPError{
				Code:         tt.code,
				EnhancedCode: smtp.EnhancedCode{tt.code / 100, 1, 1},
				Message:      "recusado",
			}}
			relay := &SMTPRelay{Addr: startFakeSMTP(t, be), Timeout: 5 * time.Second}

			err := relay.Deliver(context.Background(), relayMessageFixture())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRelayFailure)

			var relayErr *RelayError
			require.True(t, errors.As(err, &relayErr))
			assert.Equal(t, tt.permanent, relayErr.Permanent)
			assert.Empty(t, be.received())
		})
	}
}

func TestSMTPRelayTimeout(t *testing.T) {
	// Aceita a conexão e nunca envia a saudação
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	var held []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, c)
			mu.Unlock()
		}
	}()
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range held {
			c.Close()
		}
	}()

	relay := &SMTPRelay{Addr: l.Addr().String(), Timeout: 200 * time.Millisecond}

	start := time.Now()
	err = relay.Deliver(context.Background(), relayMessageFixture())
	assert.ErrorIs(t, err, ErrRelayTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSMTPRelayClosesConnectionOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	// Sem Timeout próprio, só o prazo do contexto limita a entrega
	relay := &SMTPRelay{Addr: l.Addr().String()}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = relay.Deliver(ctx, relayMessageFixture())
	assert.ErrorIs(t, err, ErrRelayTimeout)

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("o relay não conectou")
	}
	defer server.Close()

	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = server.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestSMTPRelayConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	relay := &SMTPRelay{Addr: addr, Timeout: 2 * time.Second}
	err = relay.Deliver(context.Background(), relayMessageFixture())
	assert.ErrorIs(t, err, ErrRelayFailure)
}
