package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/carloslauriano/glomail/config"
	_ "github.com/lib/pq"
)

// PostgresJournal implementa a interface Journal para PostgreSQL
type PostgresJournal struct {
	db *sql.DB
}

// NewPostgresJournal cria uma nova instância do diário PostgreSQL
func NewPostgresJournal(cfg *config.DatabaseConfig) (Journal, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("falha ao abrir banco de dados PostgreSQL: %w", err)
	}

	return &PostgresJournal{
		db: db,
	}, nil
}

// Open cria o esquema se necessário
func (s *PostgresJournal) Open() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("falha ao conectar ao PostgreSQL: %w", err)
	}
	if err := s.createSchema(); err != nil {
		return fmt.Errorf("falha ao criar esquema PostgreSQL: %w", err)
	}
	return nil
}

// Close fecha a conexão com o banco de dados
func (s *PostgresJournal) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresJournal) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id SERIAL PRIMARY KEY,
		sender VARCHAR(255) NOT NULL,
		recipient VARCHAR(255) NOT NULL,
		subject TEXT,
		route VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		detail TEXT,
		created TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS deliveries_sender_idx ON deliveries(sender, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordDelivery registra uma tentativa de entrega
func (s *PostgresJournal) RecordDelivery(delivery *Delivery) error {
	if delivery.Created.IsZero() {
		delivery.Created = time.Now()
	}

	err := s.db.QueryRow(
		`INSERT INTO deliveries (sender, recipient, subject, route, status, detail, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		delivery.Sender, delivery.Recipient, delivery.Subject, delivery.Route, delivery.Status, delivery.Detail, delivery.Created,
	).Scan(&delivery.ID)
	if err != nil {
		return fmt.Errorf("falha ao registrar entrega: %w", err)
	}

	return nil
}

// ListDeliveries lista as entregas mais recentes de um remetente
func (s *PostgresJournal) ListDeliveries(sender string, limit int) ([]*Delivery, error) {
	rows, err := s.db.Query(
		`SELECT id, sender, recipient, subject, route, status, detail, created FROM deliveries
		WHERE sender = $1 ORDER BY id DESC LIMIT $2`,
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
