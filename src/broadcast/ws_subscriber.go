package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"orderengine/src/model"
)

// WSSubscriber adapts a gorilla websocket connection to Subscriber.
type WSSubscriber struct {
	conn      *websocket.Conn
	writeWait time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewWSSubscriber(conn *websocket.Conn, writeWait time.Duration) *WSSubscriber {
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &WSSubscriber{conn: conn, writeWait: writeWait}
}

func (s *WSSubscriber) Send(update model.StatusUpdate) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(update)
}

func (s *WSSubscriber) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait))
}

// Close sends a normal close frame and releases the connection. Safe to call repeatedly.
func (s *WSSubscriber) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeWait))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// ReadPump consumes inbound frames until the connection fails or closes.
// onPong runs on every pong; onClose runs once when the pump exits.
// Client payloads are ignored.
func (s *WSSubscriber) ReadPump(onPong, onClose func()) {
	defer onClose()

	s.conn.SetPongHandler(func(string) error {
		onPong()
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.WithError(err).Warn("websocket read error")
			}
			return
		}
	}
}
