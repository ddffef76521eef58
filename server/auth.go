package server

import (
	"errors"
	"fmt"

	"github.com/carloslauriano/glomail/metrics"
	"github.com/carloslauriano/glomail/protocol"
	"github.com/carloslauriano/glomail/storage"
	"golang.org/x/crypto/bcrypt"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Authenticator controla a transição UNAUTHENTICATED -> AUTHENTICATED
type Authenticator struct {
	store storage.MailboxStore

	// HashCost é o custo bcrypt usado no registro
	HashCost int
}

// NewAuthenticator cria um novo autenticador
func NewAuthenticator(store storage.MailboxStore) *Authenticator {
	return &Authenticator{
		store:    store,
		HashCost: bcrypt.DefaultCost,
	}
}

// Register cria a conta e a caixa de correio vazia de username
func (a *Authenticator) Register(username, password string) error {
	if !ValidUsername(username) {
		return ErrInvalidUsername
	}

	exists, err := a.store.Exists(username)
	if err != nil {
		return err
	}
	if exists {
		return ErrUsernameTaken
	}

	if err := validatePassword(password); err != nil {
		return err
	}

	hash, err := HashPassword(password, a.HashCost)
	if err != nil {
		return err
	}

	if err := a.store.CreateAccount(username, hash); err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("falha ao criar conta: %w", err)
	}

	return nil
}

// Login verifica a senha de username
func (a *Authenticator) Login(username, password string) error {
	if !ValidUsername(username) {
		return ErrUnknownUser
	}

	hash, err := a.store.Credential(username)
	if errors.Is(err, storage.ErrUserNotFound) {
		return ErrUnknownUser
	} else if err != nil {
		return fmt.Errorf("falha ao obter credencial: %w", err)
	}

	if !VerifyPassword(hash, password) {
		return ErrWrongPassword
	}
	return nil
}

// Handle processa um envelope recebido antes da autenticação
func (a *Authenticator) Handle(conn *Connection, env protocol.Envelope) protocol.Envelope {
	var (
		operation string
		run       func(username, password string) error
	)
	switch env.Header {
	case protocol.AuthRegister:
		operation, run = "register", a.Register
	case protocol.AuthLogin:
		operation, run = "login", a.Login
	default:
		conn.log.Debug("requisição antes da autenticação", "header", env.Header)
		return protocol.ErrorEnvelope(ErrNotAuthenticated)
	}

	var creds credentials
	if err := env.Bind(&creds); err != nil {
		metrics.AuthenticationAttempts.WithLabelValues(operation, "invalid").Inc()
		return protocol.ErrorEnvelope(fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}

	if err := run(creds.Username, creds.Password); err != nil {
		metrics.AuthenticationAttempts.WithLabelValues(operation, "failure").Inc()
		if !isClientError(err) {
			conn.log.Error("falha na autenticação", "operation", operation, "error", err)
			return protocol.ErrorEnvelope(ErrInternal)
		}
		conn.log.Info("autenticação recusada", "operation", operation, "username", creds.Username, "error", err)
		return protocol.ErrorEnvelope(err)
	}

	metrics.AuthenticationAttempts.WithLabelValues(operation, "success").Inc()
	conn.authenticate(creds.Username)
	conn.log.Info("cliente autenticado", "operation", operation)

	reply, _ := protocol.NewEnvelope(protocol.OK, nil)
	return reply
}
