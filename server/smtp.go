package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/carloslauriano/glomail/config"
	"github.com/carloslauriano/glomail/logger"
	"github.com/carloslauriano/glomail/metrics"
	"github.com/carloslauriano/glomail/storage"
	"github.com/emersion/go-smtp"
)

var errNoSuchMailbox = &smtp.SMTPError{
	Code:         550,
	EnhancedCode: smtp.EnhancedCode{5, 1, 1},
	Message:      "caixa de correio inexistente",
}

// SMTPBackend implementa a interface smtp.Backend e recebe mensagens
// de outros servidores para as caixas locais
type SMTPBackend struct {
	store   storage.MailboxStore
	journal storage.Journal
	domain  string
}

// NewSMTPBackend cria um novo backend SMTP
func NewSMTPBackend(store storage.MailboxStore, journal storage.Journal, domain string) *SMTPBackend {
	return &SMTPBackend{
		store:   store,
		journal: journal,
		domain:  domain,
	}
}

// NewSession inicia uma sessão para uma conexão SMTP
func (b *SMTPBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &SMTPSession{
		backend: b,
		remote:  c.Conn().RemoteAddr().String(),
	}, nil
}

// SMTPSession implementa a interface smtp.Session
type SMTPSession struct {
	backend *SMTPBackend
	remote  string
	from    string
	to      []string
}

// Mail inicia uma nova transação de email
func (s *SMTPSession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt aceita apenas destinatários do domínio local que possuem caixa de correio
func (s *SMTPSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	if !ValidAddress(to) {
		return errNoSuchMailbox
	}
	user, domain := splitAddress(to)
	if !strings.EqualFold(domain, s.backend.domain) {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "relay não permitido",
		}
	}

	exists, err := s.backend.store.Exists(user)
	if err != nil {
		return fmt.Errorf("falha ao verificar caixa de correio: %w", err)
	}
	if !exists {
		return errNoSuchMailbox
	}

	s.to = append(s.to, to)
	return nil
}

// Data grava a mensagem em cada caixa de destino
func (s *SMTPSession) Data(r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("falha ao ler email: %w", err)
	}

	parsed, err := parseMessage(bytes.NewReader(body))
	if err != nil {
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "mensagem malformada",
		}
	}
	if parsed.Source == "" {
		parsed.Source = s.from
	}
	if parsed.Date.IsZero() {
		parsed.Date = time.Now()
	}

	var failed error
	for _, rcpt := range s.to {
		msg := *parsed
		msg.Destination = rcpt
		user, _ := splitAddress(rcpt)

		_, err := s.backend.store.Append(user, &msg)
		s.record(&msg, err)
		if err != nil {
			logger.Error("falha ao entregar mensagem SMTP", "remote", s.remote, "rcpt", rcpt, "error", err)
			failed = errors.Join(failed, err)
			continue
		}
		logger.Info("mensagem SMTP recebida", "remote", s.remote, "from", s.from, "rcpt", rcpt, "number", msg.Number)
	}

	if failed != nil {
		return fmt.Errorf("falha ao salvar mensagem: %w", failed)
	}
	return nil
}

func (s *SMTPSession) record(msg *storage.Message, err error) {
	delivery := &storage.Delivery{
		Sender:    s.from,
		Recipient: msg.Destination,
		Subject:   msg.Subject,
		Route:     storage.RouteInbound,
		Status:    storage.StatusDelivered,
	}
	if err != nil {
		delivery.Status = storage.StatusFailed
		delivery.Detail = err.Error()
	}
	metrics.DeliveriesTotal.WithLabelValues(storage.RouteInbound, delivery.Status).Inc()

	if jerr := s.backend.journal.RecordDelivery(delivery); jerr != nil {
		logger.Warn("falha ao registrar entrega no diário", "route", storage.RouteInbound, "error", jerr)
	}
}

// Reset limpa o estado da sessão
func (s *SMTPSession) Reset() {
	s.from = ""
	s.to = nil
}

// Logout finaliza a sessão
func (s *SMTPSession) Logout() error {
	return nil
}

// NewSMTPServer cria o servidor SMTP de entrada
func NewSMTPServer(cfg *config.Config, be *SMTPBackend) *smtp.Server {
	s := smtp.NewServer(be)

	s.Addr = cfg.SMTP.Addr()
	s.Domain = cfg.Server.Domain
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second
	s.MaxMessageBytes = cfg.SMTP.MaxMessageBytes
	s.MaxRecipients = 50

	return s
}
