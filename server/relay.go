package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/carloslauriano/glomail/config"
	"github.com/carloslauriano/glomail/logger"
	"github.com/carloslauriano/glomail/metrics"
	"github.com/carloslauriano/glomail/storage"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Relay entrega mensagens destinadas a domínios externos
type Relay interface {
	Deliver(ctx context.Context, msg *storage.Message) error
}

// RelayError descreve uma recusa ou falha do relay SMTP
type RelayError struct {
	Err       error
	Permanent bool
}

func (e *RelayError) Error() string {
	kind := "temporária"
	if e.Permanent {
		kind = "permanente"
	}
	return fmt.Sprintf("%s (falha %s): %v", ErrRelayFailure, kind, e.Err)
}

func (e *RelayError) Unwrap() []error {
	return []error{ErrRelayFailure, e.Err}
}

// SMTPRelay envia mensagens a um servidor SMTP externo
type SMTPRelay struct {
	Addr      string
	LocalName string
	Timeout   time.Duration
	StartTLS  bool
	TLSConfig *tls.Config
	Username  string
	Password  string
}

// NewSMTPRelay cria o relay a partir da configuração
func NewSMTPRelay(cfg config.RelayConfig, domain string) *SMTPRelay {
	r := &SMTPRelay{
		Addr:      cfg.Addr(),
		LocalName: domain,
		Timeout:   cfg.Timeout,
		StartTLS:  cfg.StartTLS,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	if cfg.StartTLS {
		r.TLSConfig = &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: !cfg.TLSVerify,
		}
	}
	return r
}

// Deliver envia msg pelo relay. Retorna ErrRelayTimeout se o relay não
// responder a tempo e um *RelayError para as demais falhas.
func (r *SMTPRelay) Deliver(ctx context.Context, msg *storage.Message) error {
	raw, err := renderMessage(msg)
	if err != nil {
		return &RelayError{Err: err, Permanent: true}
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- r.send(ctx, msg.Source, msg.Destination, raw)
	}()

	select {
	case err := <-done:
		metrics.RelayDuration.Observe(time.Since(start).Seconds())
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrRelayTimeout, r.Addr)
		}
		return r.classify(err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrRelayTimeout, r.Addr)
		}
		return ctx.Err()
	}
}

func (r *SMTPRelay) send(ctx context.Context, from, to string, raw []byte) error {
	dialer := net.Dialer{Timeout: r.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.Addr)
	if err != nil {
		return fmt.Errorf("falha ao conectar ao relay %s: %w", r.Addr, err)
	}
	// Encerra a conexão quando Deliver desiste, liberando esta goroutine
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var c *smtp.Client
	if r.StartTLS {
		// NewClientStartTLS já faz o EHLO, com o nome padrão do cliente
		c, err = smtp.NewClientStartTLS(conn, r.TLSConfig)
		if err != nil {
			conn.Close()
			return fmt.Errorf("falha no STARTTLS com o relay %s: %w", r.Addr, err)
		}
	} else {
		c = smtp.NewClient(conn)
	}
	defer c.Close()

	if r.Timeout > 0 {
		c.CommandTimeout = r.Timeout
		c.SubmissionTimeout = r.Timeout
	}

	if r.LocalName != "" && !r.StartTLS {
		if err := c.Hello(r.LocalName); err != nil {
			return err
		}
	}

	if r.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", r.Username, r.Password)); err != nil {
			return fmt.Errorf("falha na autenticação com o relay: %w", err)
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return err
	}
	if err := c.Rcpt(to, nil); err != nil {
		return err
	}

	wc, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(raw); err != nil {
		wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}

	// A mensagem já foi aceita; uma falha no QUIT não desfaz a entrega
	if err := c.Quit(); err != nil {
		logger.Warn("falha ao enviar QUIT ao relay", "relay", r.Addr, "error", err)
	}
	return nil
}

func (r *SMTPRelay) classify(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", ErrRelayTimeout, r.Addr)
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &RelayError{Err: err, Permanent: !smtpErr.Temporary()}
	}
	return &RelayError{Err: err}
}
