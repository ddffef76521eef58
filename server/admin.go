package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/carloslauriano/glomail/config"
	"github.com/carloslauriano/glomail/logger"
	"github.com/carloslauriano/glomail/storage"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 500
)

// NewAdminRouter cria as rotas HTTP de administração
func NewAdminRouter(journal storage.Journal) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/deliveries/{sender}", deliveriesHandler(journal)).Methods(http.MethodGet)
	return r
}

// NewAdminServer cria o servidor HTTP de administração
func NewAdminServer(cfg config.AdminConfig, journal storage.Journal) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           NewAdminRouter(journal),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func deliveriesHandler(journal storage.Journal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sender := mux.Vars(r)["sender"]

		limit := defaultDeliveryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit inválido"})
				return
			}
			limit = min(n, maxDeliveryLimit)
		}

		deliveries, err := journal.ListDeliveries(sender, limit)
		if err != nil {
			logger.Error("falha ao listar entregas", "sender", sender, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": ErrInternal.Error()})
			return
		}
		if deliveries == nil {
			deliveries = []*storage.Delivery{}
		}
		writeJSON(w, http.StatusOK, deliveries)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("falha ao escrever resposta HTTP", "error", err)
	}
}
