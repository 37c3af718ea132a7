package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"jobmate/catalog-service/internal/grpcserver"
	"jobmate/catalog-service/internal/metrics"
)

type healthResponse struct {
	Status  string                    `json:"status"`
	Service string                    `json:"service"`
	Version string                    `json:"version"`
	Sources []grpcserver.SourceStatus `json:"sources"`
}

type snapshotter interface {
	Snapshot() []grpcserver.SourceStatus
}

// healthHandler always answers 200 while the process is up; per-source
// failures are reported in the body and through gRPC health.
func healthHandler(src snapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:  "ok",
			Service: serviceName,
			Version: version,
			Sources: src.Snapshot(),
		})
	}
}

func newHTTPServer(port string, src snapshotter, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(src))
	mux.Handle("/metrics", metrics.Handler(g))

	return &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
