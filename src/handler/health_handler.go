package handler

import (
	"net/http"
	"time"
)

func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// RootHandler describes the service and its endpoints.
func RootHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"name":    "Order Execution Engine API",
			"status":  "running",
			"version": version,
			"endpoints": map[string]string{
				"health":        "/health",
				"execute_order": "POST /api/orders/execute",
				"metrics":       "/api/orders/metrics",
				"order":         "/api/orders/{orderId}",
				"history":       "/api/orders/history?userId=",
				"websocket":     "ws://" + r.Host + "/api/orders/ws/{orderId}",
			},
		})
	}
}
