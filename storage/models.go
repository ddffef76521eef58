package storage

import (
	"time"
)

// Message representa uma mensagem armazenada numa caixa de correio
type Message struct {
	Number      uint32    `json:"-"` // Atribuído pelo armazenamento, começa em 1
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Subject     string    `json:"subject"`
	Body        string    `json:"content"`
	Date        time.Time `json:"date"`
	Size        int64     `json:"-"` // Bytes ocupados em disco
}

// Stats representa as estatísticas de uma caixa de correio
type Stats struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
}

// Rotas de entrega registradas no diário
const (
	RouteLocal   = "local"
	RouteLost    = "lost"
	RouteRelay   = "relay"
	RouteInbound = "inbound"
)

// Situações de entrega registradas no diário
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Delivery representa uma tentativa de entrega registrada no diário
type Delivery struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Route     string    `json:"route"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Created   time.Time `json:"created"`
}
