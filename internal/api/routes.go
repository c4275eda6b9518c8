package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/backtests", handler.ListBacktests).Methods("GET")
	api.HandleFunc("/backtests", handler.RunBacktest).Methods("POST")
	api.HandleFunc("/backtests/stream", handler.StreamBacktest).Methods("GET")
	api.HandleFunc("/backtests/{id:[0-9]+}", handler.GetBacktest).Methods("GET")
	api.HandleFunc("/prices/{symbol}", handler.GetPrices).Methods("GET")
	api.HandleFunc("/prices/{symbol}/latest", handler.GetLatestPrice).Methods("GET")

	return r
}
