package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/carloslauriano/glomail/logger"
	"github.com/carloslauriano/glomail/metrics"
	"github.com/carloslauriano/glomail/protocol"
	"github.com/carloslauriano/glomail/storage"
)

const sentReply = "O e-mail foi enviado com sucesso."

// Email é a forma de uma mensagem no protocolo
type Email struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Subject     string `json:"subject"`
	Content     string `json:"content"`
}

type subjectsReply struct {
	Subjects []string `json:"subjects"`
}

type choiceRequest struct {
	Choice string `json:"choice"`
}

// Result é a resposta a uma requisição autenticada. Deferred, quando não nulo,
// produz a resposta final e pode bloquear (envio pelo relay).
type Result struct {
	Reply    protocol.Envelope
	Deferred func(ctx context.Context) protocol.Envelope
}

// Dispatcher atende as requisições de uma sessão autenticada
type Dispatcher struct {
	store   storage.MailboxStore
	relay   Relay
	journal storage.Journal
	domain  string
	now     func() time.Time
}

// NewDispatcher cria um novo despachante para o domínio local domain
func NewDispatcher(store storage.MailboxStore, relay Relay, journal storage.Journal, domain string) *Dispatcher {
	return &Dispatcher{
		store:   store,
		relay:   relay,
		journal: journal,
		domain:  domain,
		now:     time.Now,
	}
}

func (d *Dispatcher) address(username string) string {
	return username + "@" + d.domain
}

// Dispatch processa env em nome de username. Pânicos viram uma resposta ERROR genérica.
func (d *Dispatcher) Dispatch(ctx context.Context, username string, env protocol.Envelope) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("pânico ao processar requisição", "header", env.Header, "user", username, "panic", p, "stack", string(debug.Stack()))
			metrics.RequestsTotal.WithLabelValues(env.Header.String(), "panic").Inc()
			res = Result{Reply: protocol.ErrorEnvelope(ErrInternal)}
		}
	}()

	switch env.Header {
	case protocol.InboxReadingRequest:
		subjects, err := d.Subjects(username)
		return Result{Reply: d.reply(env.Header, username, subjectsReply{Subjects: subjects}, err)}

	case protocol.InboxReadingChoice:
		var req choiceRequest
		if err := env.Bind(&req); err != nil {
			return Result{Reply: d.reply(env.Header, username, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err))}
		}
		messages, err := d.Fetch(username, req.Choice)
		if err != nil {
			return Result{Reply: d.reply(env.Header, username, nil, err)}
		}
		emails := make([]Email, len(messages))
		for i, msg := range messages {
			emails[i] = toEmail(msg)
		}
		return Result{Reply: d.reply(env.Header, username, emails, nil)}

	case protocol.EmailSending:
		return d.dispatchSend(username, env)

	case protocol.StatsRequest:
		stats, err := d.Stats(username)
		return Result{Reply: d.reply(env.Header, username, stats, err)}

	default:
		return Result{Reply: d.reply(env.Header, username, nil, fmt.Errorf("%w: %s", ErrInvalidRequest, env.Header))}
	}
}

func (d *Dispatcher) dispatchSend(username string, env protocol.Envelope) Result {
	msg, err := decodeEmail(env)
	if err != nil {
		return Result{Reply: d.reply(env.Header, username, nil, err)}
	}

	relay, err := d.route(username, msg)
	if err != nil || !relay {
		return Result{Reply: d.reply(env.Header, username, sentReply, err)}
	}

	return Result{Deferred: func(ctx context.Context) (reply protocol.Envelope) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("pânico no envio pelo relay", "user", username, "panic", p, "stack", string(debug.Stack()))
				reply = protocol.ErrorEnvelope(ErrInternal)
			}
		}()
		return d.reply(env.Header, username, sentReply, d.relayMessage(ctx, msg))
	}}
}

// reply monta a resposta OK com data ou a resposta ERROR correspondente a err
func (d *Dispatcher) reply(header protocol.Header, username string, data any, err error) protocol.Envelope {
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(header.String(), "error").Inc()
		if !isClientError(err) {
			logger.Error("falha ao processar requisição", "header", header, "user", username, "error", err)
			return protocol.ErrorEnvelope(ErrInternal)
		}
		logger.Debug("requisição recusada", "header", header, "user", username, "error", err)
		return protocol.ErrorEnvelope(err)
	}

	env, err := protocol.NewEnvelope(protocol.OK, data)
	if err != nil {
		logger.Error("falha ao serializar resposta", "header", header, "error", err)
		metrics.RequestsTotal.WithLabelValues(header.String(), "error").Inc()
		return protocol.ErrorEnvelope(ErrInternal)
	}
	metrics.RequestsTotal.WithLabelValues(header.String(), "ok").Inc()
	return env
}

// Subjects lista as linhas de assunto da caixa de username, em ordem crescente de número
func (d *Dispatcher) Subjects(username string) ([]string, error) {
	messages, err := d.store.List(username)
	if errors.Is(err, storage.ErrMailboxNotFound) {
		return nil, ErrUnknownUser
	} else if err != nil {
		return nil, err
	}

	subjects := make([]string, len(messages))
	for i, msg := range messages {
		subjects[i] = fmt.Sprintf("n°%d %s - %s", msg.Number, msg.Subject, msg.Source)
	}
	return subjects, nil
}

// Fetch retorna as mensagens escolhidas ("1" ou "1,3"), na ordem pedida
func (d *Dispatcher) Fetch(username, choice string) ([]*storage.Message, error) {
	numbers, err := parseChoice(choice)
	if err != nil {
		return nil, err
	}

	messages := make([]*storage.Message, 0, len(numbers))
	for _, n := range numbers {
		msg, err := d.store.Get(username, n)
		switch {
		case errors.Is(err, storage.ErrMailboxNotFound):
			return nil, ErrUnknownUser
		case errors.Is(err, storage.ErrMessageNotFound):
			return nil, fmt.Errorf("%w: %d", ErrInvalidSelection, n)
		case err != nil:
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func parseChoice(choice string) ([]uint32, error) {
	parts := strings.Split(choice, ",")
	numbers := make([]uint32, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSelection, part)
		}
		numbers = append(numbers, uint32(n))
	}
	return numbers, nil
}

// Stats retorna a contagem e o tamanho da caixa de username
func (d *Dispatcher) Stats(username string) (storage.Stats, error) {
	stats, err := d.store.Stat(username)
	if errors.Is(err, storage.ErrMailboxNotFound) {
		return storage.Stats{}, ErrUnknownUser
	}
	return stats, err
}

// Send entrega msg em nome de username, aguardando o relay quando necessário
func (d *Dispatcher) Send(ctx context.Context, username string, msg *storage.Message) error {
	relay, err := d.route(username, msg)
	if err != nil || !relay {
		return err
	}
	return d.relayMessage(ctx, msg)
}

// route valida msg e faz a entrega local. Retorna true quando o destino é
// externo e a mensagem ainda precisa passar pelo relay.
func (d *Dispatcher) route(username string, msg *storage.Message) (bool, error) {
	msg.Source = strings.TrimSpace(msg.Source)
	msg.Destination = strings.TrimSpace(msg.Destination)
	if msg.Source == "" {
		msg.Source = d.address(username)
	}

	if !ValidAddress(msg.Source) {
		return false, fmt.Errorf("%w: %q", ErrInvalidAddress, msg.Source)
	}
	if !ValidAddress(msg.Destination) {
		return false, fmt.Errorf("%w: %q", ErrInvalidAddress, msg.Destination)
	}

	sourceUser, sourceDomain := splitAddress(msg.Source)
	exists, err := d.store.Exists(sourceUser)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("%w: %s", ErrUnknownSender, msg.Source)
	}
	if sourceUser != username || !strings.EqualFold(sourceDomain, d.domain) {
		return false, fmt.Errorf("%w: %s", ErrForgedSender, msg.Source)
	}

	if msg.Date.IsZero() {
		msg.Date = d.now()
	}

	_, destDomain := splitAddress(msg.Destination)
	if !strings.EqualFold(destDomain, d.domain) {
		return true, nil
	}
	return false, d.deliverLocal(msg)
}

func (d *Dispatcher) deliverLocal(msg *storage.Message) error {
	recipient, _ := splitAddress(msg.Destination)

	_, err := d.store.Append(recipient, msg)
	if err == nil {
		d.record(msg, storage.RouteLocal, nil)
		return nil
	}
	if !errors.Is(err, storage.ErrMailboxNotFound) {
		d.record(msg, storage.RouteLocal, err)
		return fmt.Errorf("falha ao entregar mensagem: %w", err)
	}

	if _, err := d.store.StoreLost(recipient, msg); err != nil {
		d.record(msg, storage.RouteLost, err)
		return fmt.Errorf("falha ao guardar correio perdido: %w", err)
	}
	err = fmt.Errorf("%w: %s", ErrUnknownRecipient, msg.Destination)
	d.record(msg, storage.RouteLost, err)
	return err
}

func (d *Dispatcher) relayMessage(ctx context.Context, msg *storage.Message) error {
	var err error
	if d.relay == nil {
		err = &RelayError{Err: errors.New("nenhum relay configurado"), Permanent: true}
	} else {
		err = d.relay.Deliver(ctx, msg)
	}
	d.record(msg, storage.RouteRelay, err)
	return err
}

// record registra a tentativa no diário; falhas do diário não afetam a entrega
func (d *Dispatcher) record(msg *storage.Message, route string, err error) {
	delivery := &storage.Delivery{
		Sender:    msg.Source,
		Recipient: msg.Destination,
		Subject:   msg.Subject,
		Route:     route,
		Status:    storage.StatusDelivered,
		Created:   d.now(),
	}
	if err != nil {
		delivery.Status = storage.StatusFailed
		delivery.Detail = err.Error()
	}
	metrics.DeliveriesTotal.WithLabelValues(route, delivery.Status).Inc()

	if d.journal == nil {
		return
	}
	if jerr := d.journal.RecordDelivery(delivery); jerr != nil {
		logger.Warn("falha ao registrar entrega no diário", "route", route, "recipient", msg.Destination, "error", jerr)
	}
}

// decodeEmail aceita um objeto {source, destination, subject, content} ou
// o texto de uma mensagem RFC 5322
func decodeEmail(env protocol.Envelope) (*storage.Message, error) {
	raw := bytes.TrimSpace(env.Data)
	if len(raw) > 0 && raw[0] == '"' {
		var text string
		if err := env.Bind(&text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		msg, err := parseMessage(strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return msg, nil
	}

	var email Email
	if err := env.Bind(&email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return &storage.Message{
		Source:      email.Source,
		Destination: email.Destination,
		Subject:     email.Subject,
		Body:        email.Content,
	}, nil
}

func toEmail(msg *storage.Message) Email {
	return Email{
		Source:      msg.Source,
		Destination: msg.Destination,
		Subject:     msg.Subject,
		Content:     msg.Body,
	}
}
