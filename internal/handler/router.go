package handler

import (
	"net/http"

	"github.com/abhijithns29/propchain-engine/internal/health"
)

// NewRouter builds the API route table
func NewRouter(
	transactions *TransactionHandler,
	parcels *ParcelHandler,
	healthChecker *health.HealthChecker,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/transactions", transactions.Initiate)
	mux.HandleFunc("GET /v1/transactions/{id}", transactions.Status)
	mux.HandleFunc("POST /v1/transactions/{id}/decision", transactions.Decide)

	mux.HandleFunc("POST /v1/parcels", parcels.Create)
	mux.HandleFunc("GET /v1/parcels/{id}", parcels.Get)

	mux.HandleFunc("GET /health/live", healthChecker.LivenessHandler)
	mux.HandleFunc("GET /health/ready", healthChecker.ReadinessHandler)

	return mux
}
