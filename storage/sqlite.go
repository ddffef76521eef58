package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/carloslauriano/glomail/config"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteJournal implementa a interface Journal para SQLite
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

// NewSQLiteJournal cria uma nova instância do diário SQLite
func NewSQLiteJournal(cfg *config.DatabaseConfig) (Journal, error) {
	// Garantir que o diretório existe
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("falha ao criar diretório para SQLite: %w", err)
	}

	return &SQLiteJournal{
		path: cfg.Path,
	}, nil
}

// Open abre a conexão com o banco de dados
func (s *SQLiteJournal) Open() error {
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("falha ao abrir banco de dados SQLite: %w", err)
	}
	// Um único escritor evita "database is locked" entre o reator e as sessões SMTP
	db.SetMaxOpenConns(1)
	s.db = db

	if err := s.createSchema(); err != nil {
		s.db.Close()
		return fmt.Errorf("falha ao criar esquema SQLite: %w", err)
	}

	return nil
}

// Close fecha a conexão com o banco de dados
func (s *SQLiteJournal) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// createSchema cria o esquema do banco de dados
func (s *SQLiteJournal) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		subject TEXT,
		route TEXT NOT NULL,
		status TEXT NOT NULL,
		detail TEXT,
		created DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS deliveries_sender_idx ON deliveries(sender, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordDelivery registra uma tentativa de entrega
func (s *SQLiteJournal) RecordDelivery(delivery *Delivery) error {
	if delivery.Created.IsZero() {
		delivery.Created = time.Now()
	}

	result, err := s.db.Exec(
		"INSERT INTO deliveries (sender, recipient, subject, route, status, detail, created) VALUES (?, ?, ?, ?, ?, ?, ?)",
		delivery.Sender, delivery.Recipient, delivery.Subject, delivery.Route, delivery.Status, delivery.Detail, delivery.Created,
	)
	if err != nil {
		return fmt.Errorf("falha ao registrar entrega: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("falha ao obter ID da entrega: %w", err)
	}
	delivery.ID = id

	return nil
}

// ListDeliveries lista as entregas mais recentes de um remetente
func (s *SQLiteJournal) ListDeliveries(sender string, limit int) ([]*Delivery, error) {
	rows, err := s.db.Query(
		`SELECT id, sender, recipient, subject, route, status, detail, created FROM deliveries
		WHERE sender = ? ORDER BY id DESC LIMIT ?`,
		sender, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("falha ao listar entregas: %w", err)
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		d := &Delivery{}
		var subject, detail sql.NullString
		if err := rows.Scan(&d.ID, &d.Sender, &d.Recipient, &subject, &d.Route, &d.Status, &detail, &d.Created); err != nil {
			return nil, fmt.Errorf("falha ao ler dados da entrega: %w", err)
		}
		d.Subject = subject.String
		d.Detail = detail.String
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre entregas: %w", err)
	}

	return deliveries, nil
}
