package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"orderengine/src/model"
)

// Subscriber is a live channel to one client watching one order.
type Subscriber interface {
	Send(update model.StatusUpdate) error
	Ping() error
	Close() error
}

// sessionStore keeps the ws:<orderId> bookkeeping records.
type sessionStore interface {
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

type subscription struct {
	sub        Subscriber
	alive      bool
	attachedAt time.Time
}

type sessionRecord struct {
	OrderID    string    `json:"orderId"`
	AttachedAt time.Time `json:"attachedAt"`
}

// Broadcaster routes status updates to the single subscriber registered per order.
// Updates published while nobody is attached are dropped.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]*subscription

	sessions   sessionStore
	sessionTTL time.Duration
	now        func() time.Time
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]*subscription),
		now:  time.Now,
	}
}

// WithSessions records each attachment under ws:<orderId> in store.
func (b *Broadcaster) WithSessions(store sessionStore, ttl time.Duration) *Broadcaster {
	b.sessions = store
	b.sessionTTL = ttl
	return b
}

func sessionKey(orderID string) string {
	return "ws:" + orderID
}

// Attach sends the connected acknowledgment to sub and registers it for orderID.
// A subscriber already registered for the same order is replaced and closed.
func (b *Broadcaster) Attach(orderID string, sub Subscriber) error {
	now := b.now()
	if err := sub.Send(model.ConnectedUpdate(orderID, now)); err != nil {
		_ = sub.Close()
		return err
	}

	b.mu.Lock()
	prev := b.subs[orderID]
	b.subs[orderID] = &subscription{sub: sub, alive: true, attachedAt: now}
	b.mu.Unlock()

	if prev != nil && prev.sub != sub {
		_ = prev.sub.Close()
	}
	b.saveSession(orderID, now)

	logger.WithField("orderId", orderID).Info("WebSocket connected for order")
	return nil
}

// Publish delivers update to the subscriber of orderID, if any.
// A failed send detaches that subscriber.
func (b *Broadcaster) Publish(orderID string, update model.StatusUpdate) {
	b.mu.Lock()
	s := b.subs[orderID]
	b.mu.Unlock()

	if s == nil {
		logger.WithFields(map[string]interface{}{
			"orderId": orderID,
			"status":  update.Status,
		}).Debug("No active WebSocket for order")
		return
	}

	if err := s.sub.Send(update); err != nil {
		logger.WithError(err).WithField("orderId", orderID).Warn("Failed to send status update")
		b.DetachIf(orderID, s.sub)
		return
	}
	logger.WithFields(map[string]interface{}{
		"orderId": orderID,
		"status":  update.Status,
	}).Debug("Status update sent")
}

// Detach closes and removes whatever subscriber is registered for orderID.
func (b *Broadcaster) Detach(orderID string) {
	b.mu.Lock()
	s := b.subs[orderID]
	delete(b.subs, orderID)
	b.mu.Unlock()

	if s != nil {
		b.release(orderID, s.sub)
	}
}

// DetachIf removes the subscriber of orderID only when it is still sub.
func (b *Broadcaster) DetachIf(orderID string, sub Subscriber) bool {
	b.mu.Lock()
	s := b.subs[orderID]
	if s == nil || s.sub != sub {
		b.mu.Unlock()
		return false
	}
	delete(b.subs, orderID)
	b.mu.Unlock()

	b.release(orderID, sub)
	return true
}

// MarkAlive records a heartbeat acknowledgment from sub.
func (b *Broadcaster) MarkAlive(orderID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s := b.subs[orderID]; s != nil && s.sub == sub {
		s.alive = true
	}
}

// Sweep detaches every subscriber that did not acknowledge the previous ping,
// then pings the remaining ones. It returns the number of detached subscribers.
func (b *Broadcaster) Sweep() int {
	type target struct {
		orderID string
		sub     Subscriber
	}
	var stale, live []target

	b.mu.Lock()
	for id, s := range b.subs {
		if !s.alive {
			stale = append(stale, target{id, s.sub})
			delete(b.subs, id)
			continue
		}
		s.alive = false
		live = append(live, target{id, s.sub})
	}
	b.mu.Unlock()

	for _, t := range stale {
		logger.WithField("orderId", t.orderID).Info("Terminating stale connection for order")
		b.release(t.orderID, t.sub)
	}
	for _, t := range live {
		if err := t.sub.Ping(); err != nil {
			logger.WithError(err).WithField("orderId", t.orderID).Warn("Ping failed")
			b.DetachIf(t.orderID, t.sub)
		}
	}
	return len(stale)
}

// StartHeartbeat runs Sweep every interval until ctx is done.
func (b *Broadcaster) StartHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Sweep()
			}
		}
	}()
}

// ActiveConnections returns the number of registered subscribers.
func (b *Broadcaster) ActiveConnections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches all subscribers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	for id, s := range subs {
		b.release(id, s.sub)
	}
}

func (b *Broadcaster) release(orderID string, sub Subscriber) {
	if err := sub.Close(); err != nil {
		logger.WithError(err).WithField("orderId", orderID).Debug("Closing subscriber")
	}
	if b.sessions != nil {
		if err := b.sessions.Delete(sessionKey(orderID)); err != nil {
			logger.WithError(err).WithField("orderId", orderID).Warn("Failed to remove session record")
		}
	}
	logger.WithField("orderId", orderID).Info("WebSocket disconnected for order")
}

func (b *Broadcaster) saveSession(orderID string, at time.Time) {
	if b.sessions == nil {
		return
	}
	raw, err := json.Marshal(sessionRecord{OrderID: orderID, AttachedAt: at})
	if err != nil {
		return
	}
	if err := b.sessions.Set(sessionKey(orderID), raw, b.sessionTTL); err != nil {
		logger.WithError(err).WithField("orderId", orderID).Warn("Failed to store session record")
	}
}
