package storage

import (
	"errors"
	"fmt"

	"github.com/carloslauriano/glomail/config"
)

// ErrUserNotFound é retornado quando um usuário não é encontrado
var ErrUserNotFound = errors.New("usuário não encontrado")

// ErrAccountExists é retornado quando o nome de usuário já possui credencial
var ErrAccountExists = errors.New("conta já existe")

// ErrMailboxNotFound é retornado quando uma caixa de correio não é encontrada
var ErrMailboxNotFound = errors.New("caixa de correio não encontrada")

// ErrMessageNotFound é retornado quando uma mensagem não é encontrada
var ErrMessageNotFound = errors.New("mensagem não encontrada")

// MailboxStore é a interface para as caixas de correio e credenciais
type MailboxStore interface {
	// Métodos de conta
	CreateAccount(username, credential string) error
	Credential(username string) (string, error)
	Exists(username string) (bool, error)

	// Métodos de mensagem
	Append(username string, msg *Message) (uint32, error)
	List(username string) ([]*Message, error)
	Get(username string, number uint32) (*Message, error)
	Stat(username string) (Stats, error)

	// Métodos da área de correio perdido
	StoreLost(username string, msg *Message) (uint32, error)
	ListLost(username string) ([]*Message, error)
}

// Journal é a interface do diário de entregas
type Journal interface {
	Open() error
	Close() error

	RecordDelivery(delivery *Delivery) error
	ListDeliveries(sender string, limit int) ([]*Delivery, error)
}

// NewJournal cria o diário de entregas com base na configuração
func NewJournal(cfg *config.DatabaseConfig) (Journal, error) {
	switch cfg.Type {
	case "", "none":
		return nopJournal{}, nil
	case "sqlite":
		return NewSQLiteJournal(cfg)
	case "postgres":
		return NewPostgresJournal(cfg)
	default:
		return nil, fmt.Errorf("tipo de banco de dados não suportado: %s", cfg.Type)
	}
}

// nopJournal descarta os registros quando nenhum banco está configurado
type nopJournal struct{}

func (nopJournal) Open() error { return nil }

func (nopJournal) Close() error { return nil }

func (nopJournal) RecordDelivery(*Delivery) error { return nil }

func (nopJournal) ListDeliveries(string, int) ([]*Delivery, error) {
	return nil, nil
}
