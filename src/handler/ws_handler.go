package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"orderengine/src/broadcast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by the router)
		return true
	},
}

type subscriptionHub interface {
	Attach(orderID string, sub broadcast.Subscriber) error
	MarkAlive(orderID string, sub broadcast.Subscriber)
	DetachIf(orderID string, sub broadcast.Subscriber) bool
}

// OrderStreamHandler upgrades the request and subscribes the connection to one order.
// The first frame is the connected acknowledgment.
func OrderStreamHandler(hub subscriptionHub, writeWait time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "orderId")
		if orderID == "" {
			http.Error(w, "missing orderId", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Warn("[ws] upgrade error")
			return
		}

		sub := broadcast.NewWSSubscriber(conn, writeWait)
		if err := hub.Attach(orderID, sub); err != nil {
			logger.WithError(err).WithField("order_id", orderID).Warn("[ws] attach failed")
			return
		}

		go sub.ReadPump(
			func() { hub.MarkAlive(orderID, sub) },
			func() {
				hub.DetachIf(orderID, sub)
				logger.WithField("order_id", orderID).Info("[ws] connection closed")
			},
		)
	}
}
