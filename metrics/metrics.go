package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Métricas de conexão
var (
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glomail_connections_total",
			Help: "Total de conexões aceitas",
		},
	)

	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "glomail_connections_current",
			Help: "Conexões abertas no momento",
		},
	)

	AuthenticatedConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "glomail_authenticated_connections_current",
			Help: "Conexões autenticadas no momento",
		},
	)

	ProtocolErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glomail_protocol_errors_total",
			Help: "Erros de protocolo e encerramentos de conexão por motivo",
		},
		[]string{"reason"},
	)

	AuthenticationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glomail_authentication_attempts_total",
			Help: "Tentativas de autenticação",
		},
		[]string{"operation", "result"},
	)
)

// Métricas de requisições e entregas
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glomail_requests_total",
			Help: "Requisições processadas pelo despachante",
		},
		[]string{"header", "result"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glomail_deliveries_total",
			Help: "Entregas por rota e resultado",
		},
		[]string{"route", "result"},
	)

	RelayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "glomail_relay_duration_seconds",
			Help:    "Duração das entregas pelo relay SMTP",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
)
