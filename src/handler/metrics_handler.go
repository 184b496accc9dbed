package handler

import (
	"net/http"

	"orderengine/src/queue"
)

type metricsSource interface {
	Metrics() queue.Metrics
}

type connectionCounter interface {
	ActiveConnections() int
}

type metricsResponse struct {
	queue.Metrics
	ActiveConnections int `json:"activeConnections"`
}

func MetricsHandler(q metricsSource, conns connectionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metricsResponse{
			Metrics:           q.Metrics(),
			ActiveConnections: conns.ActiveConnections(),
		})
	}
}
