package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/carloslauriano/glomail/storage"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// renderMessage gera a representação RFC 5322 de msg. O resultado é
// determinístico para uma mesma mensagem armazenada.
func renderMessage(msg *storage.Message) ([]byte, error) {
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: msg.Source}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.Destination}})
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("falha ao gerar mensagem: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		w.Close()
		return nil, fmt.Errorf("falha ao gerar corpo da mensagem: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("falha ao gerar corpo da mensagem: %w", err)
	}

	return buf.Bytes(), nil
}

// parseMessage extrai origem, destino, assunto, data e o corpo texto de uma
// mensagem RFC 5322. Campos ausentes ficam vazios.
func parseMessage(r io.Reader) (*storage.Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("mensagem RFC 5322 inválida: %w", err)
	}
	defer mr.Close()

	msg := &storage.Message{}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Source = from[0].Address
	}
	if to, err := mr.Header.AddressList("To"); err == nil && len(to) > 0 {
		msg.Destination = to[0].Address
	}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = mr.Header.Get("Subject")
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date
	}

	var fallback *string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("falha ao ler parte da mensagem: %w", err)
		}

		var contentType string
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ = h.ContentType()
		case *mail.AttachmentHeader:
			// Sem Content-Type o corpo é texto simples (RFC 2045)
			contentType, _, _ = h.ContentType()
			if contentType != "" {
				continue
			}
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("falha ao ler corpo da mensagem: %w", err)
		}
		text := string(body)

		if contentType == "" || strings.EqualFold(contentType, "text/plain") {
			msg.Body = text
			return msg, nil
		}
		if fallback == nil {
			fallback = &text
		}
	}

	if fallback != nil {
		msg.Body = *fallback
	}
	return msg, nil
}
