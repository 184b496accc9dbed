package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"orderengine/src/model"
	"orderengine/src/queue"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type orderSubmitter interface {
	Submit(ctx context.Context, orderID string, req model.CreateOrderRequest) (queue.Admission, error)
}

type orderReader interface {
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListOrderHistory(ctx context.Context, userID string, limit int) ([]model.Order, error)
}

// ExecuteOrderHandler assigns an order identifier and hands the request to the queue.
// The response only confirms admission; progress is streamed over the WebSocket.
func ExecuteOrderHandler(q orderSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.CreateOrderRequest
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}

		orderID := uuid.NewString()
		adm, err := q.Submit(r.Context(), orderID, req)
		if err != nil {
			var verr *model.ValidationError
			switch {
			case errors.As(err, &verr):
				writeError(w, http.StatusBadRequest, "validation failed", verr.Error())
			case errors.Is(err, queue.ErrQueueClosed):
				writeError(w, http.StatusServiceUnavailable, "Failed to submit order", err.Error())
			default:
				logger.WithError(err).WithField("order_id", orderID).Error("error submitting order")
				writeError(w, http.StatusInternalServerError, "Failed to submit order", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, model.CreateOrderResponse{
			OrderID: adm.OrderID,
			Status:  adm.Status,
			Message: "Order submitted successfully",
		})
	}
}

// GetOrderHandler returns one order with its execution attempts.
func GetOrderHandler(repo orderReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "orderId")
		if orderID == "" {
			http.Error(w, "missing orderId", http.StatusBadRequest)
			return
		}

		order, err := repo.GetOrder(r.Context(), orderID)
		if err != nil {
			logger.WithError(err).WithField("order_id", orderID).Error("failed to fetch order")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if order == nil {
			writeError(w, http.StatusNotFound, "order not found", orderID)
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}

// OrderHistoryHandler lists the latest orders of a user.
// Supports limit (default 50, capped at 500).
func OrderHistoryHandler(repo orderReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			http.Error(w, "missing userId", http.StatusBadRequest)
			return
		}

		limit := defaultHistoryLimit
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(parsed, maxHistoryLimit)
		}

		orders, err := repo.ListOrderHistory(r.Context(), userID, limit)
		if err != nil {
			logger.WithError(err).Error("failed to list order history")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if orders == nil {
			orders = []model.Order{}
		}

		writeJSON(w, http.StatusOK, orders)
	}
}
