// Package client implementa um cliente Go para o protocolo de envelopes do glomail.
package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/carloslauriano/glomail/protocol"
)

// ServerError é a descrição de uma resposta ERROR do servidor
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Email é uma mensagem como trafega no protocolo
type Email struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Subject     string `json:"subject"`
	Content     string `json:"content"`
}

// Stats é a resposta de STATS_REQUEST
type Stats struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
}

// Client mantém uma conexão com o servidor. Não é seguro para uso concorrente.
type Client struct {
	frames *protocol.FrameConn
}

// Dial conecta ao servidor em addr
func Dial(addr string) (*Client, error) {
	return DialTimeout(addr, 10*time.Second)
}

// DialTimeout conecta ao servidor em addr com limite de tempo
func DialTimeout(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar a %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient usa uma conexão já estabelecida
func NewClient(conn net.Conn) *Client {
	return &Client{frames: protocol.NewFrameConn(conn, 0)}
}

// Close encerra a conexão
func (c *Client) Close() error {
	return c.frames.Close()
}

// Register cria a conta e autentica a sessão
func (c *Client) Register(username, password string) error {
	return c.do(protocol.AuthRegister, credentials(username, password), nil)
}

// Login autentica a sessão
func (c *Client) Login(username, password string) error {
	return c.do(protocol.AuthLogin, credentials(username, password), nil)
}

func credentials(username, password string) map[string]string {
	return map[string]string{"username": username, "password": password}
}

// Subjects lista as linhas de assunto da caixa de entrada
func (c *Client) Subjects() ([]string, error) {
	var reply struct {
		Subjects []string `json:"subjects"`
	}
	if err := c.do(protocol.InboxReadingRequest, struct{}{}, &reply); err != nil {
		return nil, err
	}
	return reply.Subjects, nil
}

// Fetch obtém as mensagens escolhidas, por exemplo "1" ou "1,3"
func (c *Client) Fetch(choice string) ([]Email, error) {
	var emails []Email
	if err := c.do(protocol.InboxReadingChoice, map[string]string{"choice": choice}, &emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// Send envia email; uma origem vazia é preenchida pelo servidor
func (c *Client) Send(email Email) (string, error) {
	var reply string
	if err := c.do(protocol.EmailSending, email, &reply); err != nil {
		return "", err
	}
	return reply, nil
}

// SendRaw envia uma mensagem RFC 5322 completa
func (c *Client) SendRaw(message string) (string, error) {
	var reply string
	if err := c.do(protocol.EmailSending, message, &reply); err != nil {
		return "", err
	}
	return reply, nil
}

// Stats obtém a contagem e o tamanho da caixa de entrada
func (c *Client) Stats() (Stats, error) {
	var stats Stats
	err := c.do(protocol.StatsRequest, struct{}{}, &stats)
	return stats, err
}

// do envia uma requisição e aguarda a resposta. Uma resposta ERROR vira *ServerError.
func (c *Client) do(header protocol.Header, data, out any) error {
	env, err := protocol.NewEnvelope(header, data)
	if err != nil {
		return err
	}
	if err := c.frames.WriteEnvelope(env); err != nil {
		return err
	}

	reply, err := c.frames.ReadEnvelope()
	if err != nil {
		return fmt.Errorf("falha ao ler resposta: %w", err)
	}

	switch reply.Header {
	case protocol.OK:
		if out == nil {
			return nil
		}
		return reply.Bind(out)
	case protocol.Error:
		var msg string
		if err := reply.Bind(&msg); err != nil {
			return &ServerError{Message: string(reply.Data)}
		}
		return &ServerError{Message: msg}
	default:
		return fmt.Errorf("resposta inesperada: %s", reply.Header)
	}
}

// IsServerError indica se err é uma resposta ERROR do servidor
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
